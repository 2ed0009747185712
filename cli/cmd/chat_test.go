package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pithecene-io/taskstream/adapter"
	"github.com/pithecene-io/taskstream/archive"
	"github.com/pithecene-io/taskstream/cli/config"
	"github.com/pithecene-io/taskstream/types"
	"github.com/pithecene-io/taskstream/wire"
)

func frame(t *testing.T, ev types.StreamEvent) string {
	t.Helper()
	b, err := wire.EncodeFrame(ev)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	return string(b)
}

// streamServer answers every request with the given frames.
func streamServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/stream") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func successFrames(t *testing.T) []string {
	intent := "create_task"
	return []string{
		frame(t, types.NewProgressEvent("parse", "Parsing request")),
		frame(t, types.NewHeartbeatEvent()),
		frame(t, types.NewProgressEvent("plan", "Planning tasks")),
		frame(t, types.NewCompleteEvent("Created 3 tasks", &intent)),
	}
}

func decodeOutcome(t *testing.T, data []byte) types.StreamOutcome {
	t.Helper()
	var out types.StreamOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("stdout is not an outcome: %v\n%s", err, data)
	}
	return out
}

func TestChat_SuccessRecordArchiveReplayHistory(t *testing.T) {
	srv := streamServer(t, successFrames(t)...)
	dir := t.TempDir()
	record := filepath.Join(dir, "transcripts", "run.tsr")
	archiveDir := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		t.Fatal(err)
	}

	out, errOut := captureOutput(t)
	err := newTestApp().Run([]string{"taskstream", "chat",
		"--base-url", srv.URL,
		"--project", "proj-1",
		"--message", "plan my week",
		"--record", record,
		"--archive-path", archiveDir,
		"--format", "json",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, err = %v, stderr:\n%s", code, err, errOut)
	}

	outcome := decodeOutcome(t, out.Bytes())
	if outcome.Status != types.OutcomeSuccess || outcome.Response != "Created 3 tasks" {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.ProgressCount != 2 || outcome.ProjectID != "proj-1" || outcome.StreamID == "" {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.IntentType == nil || *outcome.IntentType != "create_task" {
		t.Errorf("intent = %v", outcome.IntentType)
	}
	for _, want := range []string{"[1] parse: Parsing request", "[2] plan: Planning tasks"} {
		if !strings.Contains(errOut.String(), want) {
			t.Errorf("stderr missing %q:\n%s", want, errOut)
		}
	}

	// Replay the transcript.
	out.Reset()
	err = newTestApp().Run([]string{"taskstream", "replay", "--format", "json", record})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("replay exit code = %d, err = %v", code, err)
	}
	var events []ReplayEvent
	if err := json.Unmarshal(out.Bytes(), &events); err != nil {
		t.Fatalf("replay output: %v\n%s", err, out)
	}
	gotTypes := make([]string, len(events))
	for i, e := range events {
		gotTypes[i] = e.Type
	}
	if strings.Join(gotTypes, ",") != "progress,heartbeat,progress,complete" {
		t.Errorf("replayed types = %v", gotTypes)
	}
	if events[2].Seq != 2 || events[2].Step != "plan" || events[3].Message != "Created 3 tasks" {
		t.Errorf("replayed events = %+v", events)
	}

	out.Reset()
	err = newTestApp().Run([]string{"taskstream", "replay", "--summary", "--format", "json", record})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("replay --summary exit code = %d, err = %v", code, err)
	}
	var summary ReplaySummary
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("summary output: %v\n%s", err, out)
	}
	if !summary.Complete || summary.Events != 4 || summary.StreamID != outcome.StreamID {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Message != "plan my week" || summary.ClientVersion != types.Version {
		t.Errorf("summary header = %+v", summary)
	}
	if !strings.HasSuffix(summary.Endpoint, "/api/projects/proj-1/chat/stream") {
		t.Errorf("summary endpoint = %q", summary.Endpoint)
	}

	// List the archived outcome.
	out.Reset()
	err = newTestApp().Run([]string{"taskstream", "history",
		"--archive-path", archiveDir,
		"--project", "proj-1",
		"--format", "json",
	})
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("history exit code = %d, err = %v", code, err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
		t.Fatalf("history output: %v\n%s", err, out)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].StreamID != outcome.StreamID || entries[0].Status != "success" || entries[0].ProgressCount != 2 {
		t.Errorf("history entry = %+v", entries[0])
	}
}

func TestChat_ServerErrorExitCode(t *testing.T) {
	srv := streamServer(t,
		frame(t, types.NewProgressEvent("parse", "Parsing")),
		frame(t, types.NewErrorEvent("model overloaded")),
	)
	out, errOut := captureOutput(t)

	err := newTestApp().Run([]string{"taskstream", "chat",
		"--base-url", srv.URL, "--project", "p", "--message", "hi", "--format", "json"})
	if code := exitCode(t, err); code != exitServerError {
		t.Fatalf("exit code = %d, want %d", code, exitServerError)
	}
	if outcome := decodeOutcome(t, out.Bytes()); outcome.Status != types.OutcomeServerError || outcome.Message != "model overloaded" {
		t.Errorf("outcome = %+v", outcome)
	}
	if !strings.Contains(errOut.String(), "error: model overloaded") {
		t.Errorf("stderr missing error line:\n%s", errOut)
	}
}

func TestChat_TransportAndProtocolExitCodes(t *testing.T) {
	progressOnly := frame(t, types.NewProgressEvent("parse", "Parsing"))
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  types.OutcomeStatus
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"detail":"project not found"}`)
			},
			status: types.OutcomeTransportError,
		},
		{
			name: "closed without terminal",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, progressOnly)
			},
			status: types.OutcomeProtocolError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			out, _ := captureOutput(t)

			err := newTestApp().Run([]string{"taskstream", "chat",
				"--base-url", srv.URL, "--project", "p", "--message", "hi", "--format", "json"})
			if code := exitCode(t, err); code != exitStreamFailed {
				t.Fatalf("exit code = %d, want %d", code, exitStreamFailed)
			}
			if outcome := decodeOutcome(t, out.Bytes()); outcome.Status != tt.status {
				t.Errorf("status = %s, want %s", outcome.Status, tt.status)
			}
		})
	}
}

func TestChat_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing base url", []string{"--project", "p", "--message", "m"}, "--base-url is required"},
		{"missing project", []string{"--base-url", "http://127.0.0.1:1", "--message", "m"}, "--project is required"},
		{"missing message", []string{"--base-url", "http://127.0.0.1:1", "--project", "p"}, "--message is required"},
		{"bad base url", []string{"--base-url", "ftp://x", "--project", "p", "--message", "m"}, "scheme"},
		{"bad header", []string{"--base-url", "http://127.0.0.1:1", "--project", "p", "--message", "m", "--header", "oops"}, "key=value"},
		{"bad archive path", []string{"--base-url", "http://127.0.0.1:1", "--project", "p", "--message", "m", "--archive-path", "/nonexistent/archive/dir"}, "does not exist"},
		{"bad adapter", []string{"--base-url", "http://127.0.0.1:1", "--project", "p", "--message", "m", "--adapter", "kafka", "--adapter-url", "x"}, "unknown adapter type"},
		{"tui with quiet", []string{"--base-url", "http://127.0.0.1:1", "--project", "p", "--message", "m", "--tui", "--quiet"}, "mutually exclusive"},
		{"bad log level", []string{"--base-url", "http://127.0.0.1:1", "--project", "p", "--message", "m", "--log-level", "loud"}, "--log-level"},
		{"missing config", []string{"--config", "/nonexistent/taskstream.yaml", "--project", "p", "--message", "m"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureOutput(t)
			err := newTestApp().Run(append([]string{"taskstream", "chat"}, tt.args...))
			if code := exitCode(t, err); code != exitInvalidInput {
				t.Fatalf("exit code = %d, want %d (err = %v)", code, exitInvalidInput, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestChat_MessageFromStdinAndQuiet(t *testing.T) {
	var mu sync.Mutex
	var body string
	done := frame(t, types.NewCompleteEvent("ok", nil))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		mu.Unlock()
		_, _ = io.WriteString(w, done)
	}))
	defer srv.Close()

	out, errOut := captureOutput(t)
	prevIn := stdin
	stdin = strings.NewReader("from stdin\n")
	t.Cleanup(func() { stdin = prevIn })

	err := newTestApp().Run([]string{"taskstream", "chat",
		"--base-url", srv.URL, "--project", "p", "--message", "-", "--quiet"})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if body != `{"message":"from stdin"}` {
		t.Errorf("request body = %s", body)
	}
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Errorf("quiet run printed stdout=%q stderr=%q", out, errOut)
	}
}

func TestChat_ConfigFileSuppliesDefaults(t *testing.T) {
	var mu sync.Mutex
	var auth string
	done := frame(t, types.NewCompleteEvent("ok", nil))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		_, _ = io.WriteString(w, done)
	}))
	defer srv.Close()

	t.Setenv("TEST_TASKSTREAM_TOKEN", "tok-1")
	cfgPath := filepath.Join(t.TempDir(), "taskstream.yaml")
	cfg := "base_url: " + srv.URL + "\nheaders:\n  Authorization: Bearer ${TEST_TASKSTREAM_TOKEN}\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _ := captureOutput(t)
	err := newTestApp().Run([]string{"taskstream", "chat",
		"--config", cfgPath, "--project", "p", "--message", "hi", "--format", "json"})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
	if outcome := decodeOutcome(t, out.Bytes()); outcome.Status != types.OutcomeSuccess {
		t.Errorf("outcome = %+v", outcome)
	}
	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestChat_WebhookNotification(t *testing.T) {
	srv := streamServer(t, successFrames(t)...)

	received := make(chan adapter.StreamFinishedEvent, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event adapter.StreamFinishedEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		if r.Header.Get("X-Api-Key") != "k-1" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	captureOutput(t)
	err := newTestApp().Run([]string{"taskstream", "chat",
		"--base-url", srv.URL, "--project", "p", "--message", "hi", "--quiet",
		"--adapter", "webhook", "--adapter-url", hook.URL, "--adapter-header", "X-Api-Key=k-1",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}

	select {
	case event := <-received:
		if event.EventType != adapter.EventTypeStreamFinished || event.Status != "success" {
			t.Errorf("event = %+v", event)
		}
		if event.ProgressCount != 2 || event.ProjectID != "p" || event.ArchivePath != "" {
			t.Errorf("event = %+v", event)
		}
	default:
		t.Fatal("webhook was not called before chat returned")
	}
}

func TestReplay_Errors(t *testing.T) {
	captureOutput(t)

	err := newTestApp().Run([]string{"taskstream", "replay"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Errorf("no args exit code = %d", code)
	}

	err = newTestApp().Run([]string{"taskstream", "replay", "/nonexistent/run.tsr"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Errorf("missing file exit code = %d", code)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.tsr")
	if err := os.WriteFile(garbage, []byte("not a transcript"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = newTestApp().Run([]string{"taskstream", "replay", garbage})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Errorf("garbage file exit code = %d", code)
	}
}

func TestReplay_TruncatedTranscript(t *testing.T) {
	srv := streamServer(t, successFrames(t)...)
	record := filepath.Join(t.TempDir(), "run.tsr")

	out, _ := captureOutput(t)
	err := newTestApp().Run([]string{"taskstream", "chat",
		"--base-url", srv.URL, "--project", "p", "--message", "hi", "--quiet", "--record", record})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("chat exit code = %d, err = %v", code, err)
	}

	data, err := os.ReadFile(record)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(record, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}

	err = newTestApp().Run([]string{"taskstream", "replay", "--summary", "--format", "json", record})
	if code := exitCode(t, err); code != exitStreamFailed {
		t.Fatalf("exit code = %d, want %d", code, exitStreamFailed)
	}
	var summary ReplaySummary
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("summary output: %v\n%s", err, out)
	}
	if summary.Complete || summary.Events != 4 {
		t.Errorf("summary = %+v, want 4 events and no outcome", summary)
	}
}

func TestHistory_RequiresArchivePath(t *testing.T) {
	captureOutput(t)
	err := newTestApp().Run([]string{"taskstream", "history"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Fatalf("exit code = %d, want %d", code, exitInvalidInput)
	}
	if !strings.Contains(err.Error(), "--archive-path is required") {
		t.Errorf("error = %v", err)
	}
}

func TestOutcomeToExitCode(t *testing.T) {
	tests := []struct {
		status types.OutcomeStatus
		want   int
	}{
		{types.OutcomeSuccess, 0},
		{types.OutcomeServerError, 1},
		{types.OutcomeTransportError, 2},
		{types.OutcomeProtocolError, 2},
		{types.OutcomeIdleTimeout, 2},
		{types.OutcomeAbandoned, 130},
		{types.OutcomeStatus("unknown_status"), 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := outcomeToExitCode(tt.status); got != tt.want {
				t.Errorf("outcomeToExitCode(%q) = %d, want %d", tt.status, got, tt.want)
			}
		})
	}
}

func TestValidateArchiveChoice(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		choice      archiveChoice
		errContains string
	}{
		{"fs with directory", archiveChoice{backend: "fs", path: t.TempDir()}, ""},
		{"fs nonexistent", archiveChoice{backend: "fs", path: "/nonexistent/path/that/does/not/exist"}, "does not exist"},
		{"fs file", archiveChoice{backend: "fs", path: file}, "not a directory"},
		{"s3 bucket", archiveChoice{backend: "s3", path: "bucket/prefix"}, ""},
		{"s3 empty bucket", archiveChoice{backend: "s3", path: "/prefix"}, "bucket"},
		{"unknown backend", archiveChoice{backend: "gcs", path: "x"}, "must be fs or s3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArchiveChoice(tt.choice)
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error = %v, want it to contain %q", err, tt.errContains)
			}
		})
	}
}

func TestBuildArchivePath(t *testing.T) {
	meta := archive.StreamMeta{StreamID: "s-1", ProjectID: "proj", StartedAt: mustTime(t, "2026-02-08T10:00:00Z")}
	const partition = "datasets/taskstream/partitions/project=proj/day=2026-02-08/stream_id=s-1"

	fs := buildArchivePath(archiveChoice{backend: "fs", path: "/var/taskstream"}, meta)
	if !strings.HasPrefix(fs, "file:///") || !strings.HasSuffix(fs, partition) {
		t.Errorf("fs path = %q", fs)
	}

	if got := buildArchivePath(archiveChoice{backend: "s3", path: "bucket/data/"}, meta); got != "s3://bucket/data/"+partition {
		t.Errorf("s3 with prefix = %q", got)
	}
	if got := buildArchivePath(archiveChoice{backend: "s3", path: "bucket"}, meta); got != "s3://bucket/"+partition {
		t.Errorf("s3 bucket only = %q", got)
	}
	if got := buildArchivePath(archiveChoice{backend: "gcs", path: "x"}, meta); got != partition {
		t.Errorf("unknown backend = %q", got)
	}
}

func TestParseAdapterConfig(t *testing.T) {
	retries := 5
	cfg := &config.Config{Adapter: config.AdapterConfig{
		URL:     "https://from-config.example.com",
		Retries: &retries,
		Headers: map[string]string{"X-Source": "taskstream"},
	}}

	t.Run("none selected", func(t *testing.T) {
		c := newTestCLIContext(t, nil, nil)
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, "")
		if err != nil || ac != nil {
			t.Errorf("got %+v, %v", ac, err)
		}
	})

	t.Run("config provides url retries and headers", func(t *testing.T) {
		c := newTestCLIContext(t, nil, map[string]string{"adapter-url": "", "adapter-channel": ""})
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, "webhook")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ac.url != "https://from-config.example.com" || ac.retries != 5 || ac.headers["X-Source"] != "taskstream" {
			t.Errorf("adapter choice = %+v", ac)
		}
	})

	t.Run("cli url wins", func(t *testing.T) {
		c := newTestCLIContext(t, map[string]string{"adapter-url": "redis://localhost:6379"}, map[string]string{"adapter-channel": ""})
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, "redis")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ac.url != "redis://localhost:6379" {
			t.Errorf("url = %q", ac.url)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		c := newTestCLIContext(t, nil, map[string]string{"adapter-url": "", "adapter-channel": ""})
		_, err := parseAdapterConfigWithPrecedence(c, nil, "redis")
		if err == nil || !strings.Contains(err.Error(), "--adapter-url is required when --adapter=redis") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestChat_TUIFallsBackWithoutTerminal(t *testing.T) {
	srv := streamServer(t, successFrames(t)...)
	out, errOut := captureOutput(t)

	err := newTestApp().Run([]string{"taskstream", "chat",
		"--base-url", srv.URL, "--project", "p", "--message", "hi", "--tui", "--format", "json"})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}
	if !strings.Contains(errOut.String(), "[1] parse: Parsing request") {
		t.Errorf("expected line output on non-terminal stderr:\n%s", errOut)
	}
	if outcome := decodeOutcome(t, out.Bytes()); outcome.Status != types.OutcomeSuccess {
		t.Errorf("outcome = %+v", outcome)
	}
}
