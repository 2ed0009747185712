package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskstream/adapter"
	"github.com/pithecene-io/taskstream/adapter/redis"
	"github.com/pithecene-io/taskstream/adapter/webhook"
	"github.com/pithecene-io/taskstream/archive"
	"github.com/pithecene-io/taskstream/cli/config"
	"github.com/pithecene-io/taskstream/cli/tui"
	"github.com/pithecene-io/taskstream/iox"
	"github.com/pithecene-io/taskstream/log"
	"github.com/pithecene-io/taskstream/metrics"
	"github.com/pithecene-io/taskstream/stream"
	"github.com/pithecene-io/taskstream/transcript"
	"github.com/pithecene-io/taskstream/types"
)

// Exit codes for chat.
const (
	exitSuccess      = 0
	exitServerError  = 1
	exitStreamFailed = 2
	exitInvalidInput = 3
	exitAbandoned    = 130
)

// ChatCommand returns the chat command.
// It sends one message and follows the progress stream to its end.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Send a chat message and follow its progress stream",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Backend base URL (e.g. https://api.example.com)",
				EnvVars: []string{"TASKSTREAM_BASE_URL"},
			},
			&cli.StringFlag{
				Name:  "project",
				Usage: "Project ID (required)",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Chat message, or - to read it from stdin (required)",
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "Extra request header as key=value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Fail when no progress or heartbeat arrives for this long (0 disables)",
			},
			&cli.StringFlag{
				Name:  "record",
				Usage: "Write a transcript of the stream to this file",
			},
			// Archive flags
			&cli.StringFlag{
				Name:  "archive-backend",
				Usage: "Archive backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "archive-path",
				Usage: "Archive location (fs: directory, s3: bucket/prefix); archiving is off when empty",
			},
			&cli.StringFlag{
				Name:  "archive-dataset",
				Usage: "Archive dataset ID",
				Value: archive.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "archive-region",
				Usage: "AWS region for the s3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "archive-endpoint",
				Usage: "Custom S3 endpoint (MinIO, R2)",
			},
			&cli.BoolFlag{
				Name:  "archive-s3-path-style",
				Usage: "Use path-style S3 addressing",
			},
			// Notification flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Notify on stream end: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook URL or Redis URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as key=value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-attempt notification timeout",
				Value: webhook.DefaultTimeout,
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Notification retry attempts",
				Value: webhook.DefaultRetries,
			},
			// Output flags
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show a live progress view",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress progress lines and the rendered outcome",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "warn",
			},
		}, OutputFlags()...),
		Action: chatAction,
	}
}

// chatChoice holds the resolved chat configuration.
type chatChoice struct {
	baseURL     string
	request     types.ChatRequest
	headers     map[string]string
	idleTimeout time.Duration
	record      string
	archive     archiveChoice
	adapter     *adapterChoice
	tui         bool
	quiet       bool
	logLevel    log.Level
}

// archiveChoice holds the resolved archive configuration.
type archiveChoice struct {
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	dataset   string
	region    string
	endpoint  string
	pathStyle bool
}

func (a archiveChoice) enabled() bool {
	return a.path != ""
}

// backendName is the metrics dimension, empty when archiving is off.
func (a archiveChoice) backendName() string {
	if !a.enabled() {
		return ""
	}
	return a.backend
}

// adapterChoice holds the resolved notification adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

func chatAction(c *cli.Context) error {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	choice, err := parseChatChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	r, err := newRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLoggerWithWriter(stderr, choice.logLevel)
	defer iox.DiscardErr(logger.Sync)

	streamID := uuid.NewString()
	collector := metrics.NewCollector(choice.baseURL, choice.archive.backendName())
	client, err := stream.NewClient(stream.Config{
		BaseURL:     choice.baseURL,
		Headers:     choice.headers,
		IdleTimeout: choice.idleTimeout,
		Logger:      logger,
		Collector:   collector,
		NewStreamID: func() string { return streamID },
	})
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	defer iox.DiscardClose(client)

	var sink archive.Sink
	if choice.archive.enabled() {
		sink, err = buildArchiveSink(ctx, choice.archive, collector)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to create archive: %v", err), exitInvalidInput)
		}
		defer iox.DiscardClose(sink)
	}

	var notifier adapter.Adapter
	if choice.adapter != nil {
		notifier, err = buildAdapter(choice.adapter)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		defer iox.DiscardClose(notifier)
	}

	rec, err := openRecorder(choice.record, transcript.Header{
		Version:   types.Version,
		StreamID:  streamID,
		ProjectID: choice.request.ProjectID,
		Endpoint:  client.Endpoint(choice.request.ProjectID),
		Message:   choice.request.Message,
		StartedAt: time.Now(),
	}, sink != nil)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	out, streamErr := runStream(ctx, client, choice, rec)
	if out == nil {
		rec.abort()
		return cli.Exit(fmt.Sprintf("invalid request: %v", streamErr), exitInvalidInput)
	}
	if streamErr != nil {
		logger.Debug("stream failed", map[string]any{"error": streamErr.Error()})
	}

	// Post-stream work must finish even when the stream was interrupted.
	after := context.WithoutCancel(ctx)

	if err := rec.finish(out); err != nil {
		logger.Warn("transcript write failed", map[string]any{"path": choice.record, "error": err.Error()})
	}

	var archivePath string
	if sink != nil {
		meta := archive.StreamMeta{StreamID: out.StreamID, ProjectID: out.ProjectID, StartedAt: out.StartedAt}
		if err := archiveStream(after, sink, meta, rec.events, out); err != nil {
			logger.Warn("archive write failed", map[string]any{"error": err.Error()})
		} else {
			archivePath = buildArchivePath(choice.archive, meta)
		}
	}

	if notifier != nil {
		event := adapter.NewStreamFinishedEvent(out, archivePath, time.Now())
		if err := notifier.Publish(after, event); err != nil {
			collector.IncPublishFailure()
			logger.Warn("notification failed", map[string]any{"adapter": choice.adapter.adapterType, "error": err.Error()})
		} else {
			collector.IncPublishSuccess()
		}
	}

	logger.Debug("stream metrics", snapshotFields(collector.Snapshot()))

	if !choice.quiet {
		if err := r.Render(out); err != nil {
			return fmt.Errorf("render outcome: %w", err)
		}
	}
	return cli.Exit("", outcomeToExitCode(out.Status))
}

// parseChatChoice resolves flags over config values and validates them.
func parseChatChoice(c *cli.Context, cfg *config.Config) (chatChoice, error) {
	choice := chatChoice{
		baseURL: resolveString(c, "base-url", configVal(cfg, func(c *config.Config) string { return c.BaseURL })),
		request: types.ChatRequest{
			ProjectID: c.String("project"),
			Message:   c.String("message"),
		},
		idleTimeout: resolveDuration(c, "idle-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.IdleTimeout.Duration })),
		record:      resolveString(c, "record", configVal(cfg, func(c *config.Config) string { return c.Record })),
		tui:         c.Bool("tui"),
		quiet:       c.Bool("quiet"),
	}

	if choice.baseURL == "" {
		return choice, errors.New("--base-url is required (flag, TASKSTREAM_BASE_URL or base_url in config)")
	}
	if choice.request.ProjectID == "" {
		return choice, errors.New("--project is required")
	}
	if choice.request.Message == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return choice, fmt.Errorf("read message from stdin: %w", err)
		}
		choice.request.Message = strings.TrimRight(string(data), "\r\n")
	}
	if choice.request.Message == "" {
		return choice, errors.New("--message is required")
	}
	if choice.idleTimeout < 0 {
		return choice, fmt.Errorf("--idle-timeout must be >= 0, got %s", choice.idleTimeout)
	}
	if choice.tui && choice.quiet {
		return choice, errors.New("--tui and --quiet are mutually exclusive")
	}

	level, err := log.ParseLevel(resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })))
	if err != nil {
		return choice, fmt.Errorf("invalid --log-level: %w", err)
	}
	choice.logLevel = level

	headers, err := parseHeaders("header", c.StringSlice("header"), configVal(cfg, func(c *config.Config) map[string]string { return c.Headers }))
	if err != nil {
		return choice, err
	}
	choice.headers = headers

	choice.archive = archiveChoice{
		backend:   resolveString(c, "archive-backend", configVal(cfg, func(c *config.Config) string { return c.Archive.Backend })),
		path:      resolveString(c, "archive-path", configVal(cfg, func(c *config.Config) string { return c.Archive.Path })),
		dataset:   resolveString(c, "archive-dataset", configVal(cfg, func(c *config.Config) string { return c.Archive.Dataset })),
		region:    resolveString(c, "archive-region", configVal(cfg, func(c *config.Config) string { return c.Archive.Region })),
		endpoint:  resolveString(c, "archive-endpoint", configVal(cfg, func(c *config.Config) string { return c.Archive.Endpoint })),
		pathStyle: resolveBool(c, "archive-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Archive.S3PathStyle })),
	}
	if choice.archive.enabled() {
		if err := validateArchiveChoice(choice.archive); err != nil {
			return choice, err
		}
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	ac, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
	if err != nil {
		return choice, err
	}
	choice.adapter = ac

	return choice, nil
}

func validateArchiveChoice(a archiveChoice) error {
	switch a.backend {
	case "fs", "":
		info, err := os.Stat(a.path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("--archive-path %q does not exist", a.path)
			}
			return fmt.Errorf("cannot access --archive-path %q: %w", a.path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("--archive-path %q is not a directory", a.path)
		}
		return nil
	case "s3":
		if bucket, _ := archive.ParseS3Path(a.path); bucket == "" {
			return fmt.Errorf("--archive-path %q must be bucket or bucket/prefix for s3", a.path)
		}
		return nil
	default:
		return fmt.Errorf("invalid --archive-backend %q (must be fs or s3)", a.backend)
	}
}

// parseAdapterConfigWithPrecedence resolves adapter settings for adapterType.
// Returns nil when no adapter is selected.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	if adapterType == "" {
		return nil, nil
	}

	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     c.Int("adapter-retries"),
	}

	switch adapterType {
	case "webhook", "redis":
		if ac.url == "" {
			return nil, fmt.Errorf("--adapter-url is required when --adapter=%s", adapterType)
		}
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", adapterType)
	}

	if !c.IsSet("adapter-retries") {
		if r := configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries }); r != nil {
			ac.retries = *r
		}
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", ac.retries)
	}

	headers, err := parseHeaders("adapter-header", c.StringSlice("adapter-header"),
		configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }))
	if err != nil {
		return nil, err
	}
	ac.headers = headers

	return ac, nil
}

func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.adapterType)
	}
}

// buildArchiveSink creates the instrumented archive sink for a.
func buildArchiveSink(ctx context.Context, a archiveChoice, collector *metrics.Collector) (archive.Sink, error) {
	cfg := archive.Config{Dataset: a.dataset}

	var sink *archive.LodeSink
	var err error
	switch a.backend {
	case "fs", "":
		sink, err = archive.NewLodeSink(cfg, a.path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(a.path)
		sink, err = archive.NewS3Sink(ctx, cfg, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       a.region,
			Endpoint:     a.endpoint,
			UsePathStyle: a.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend: %s (must be fs or s3)", a.backend)
	}
	if err != nil {
		return nil, err
	}
	return archive.NewInstrumentedSink(sink, collector), nil
}

// buildArchivePath renders where the stream's records live. Unknown
// backends get the bare dataset-relative prefix.
func buildArchivePath(a archiveChoice, meta archive.StreamMeta) string {
	prefix := meta.StreamPrefix(a.dataset)
	switch a.backend {
	case "fs", "":
		root, err := filepath.Abs(a.path)
		if err != nil {
			root = a.path
		}
		return "file://" + filepath.ToSlash(filepath.Join(root, prefix))
	case "s3":
		bucket, p := archive.ParseS3Path(a.path)
		if p = strings.Trim(p, "/"); p != "" {
			return "s3://" + bucket + "/" + p + "/" + prefix
		}
		return "s3://" + bucket + "/" + prefix
	default:
		return prefix
	}
}

// archiveStream writes the stream's events and then its outcome.
func archiveStream(ctx context.Context, sink archive.Sink, meta archive.StreamMeta, events []types.EventEnvelope, out *types.StreamOutcome) error {
	if len(events) > 0 {
		if err := sink.WriteEvents(ctx, meta, events); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}
	if err := sink.WriteOutcome(ctx, out); err != nil {
		return fmt.Errorf("outcome: %w", err)
	}
	return nil
}

// runStream streams the request through the line printer or the TUI.
// The TUI needs a terminal on stderr; without one the line printer is used.
func runStream(ctx context.Context, client *stream.Client, choice chatChoice, rec *streamRecorder) (*types.StreamOutcome, error) {
	if !choice.tui || !isStderrTTY() {
		h := stream.Handlers{}
		if !choice.quiet {
			h = progressPrinter(stderr)
		}
		h.OnEvent = rec.onEvent
		return client.Stream(ctx, choice.request, h)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out *types.StreamOutcome
	var streamErr error
	model := tui.NewProgressModel(choice.request.ProjectID, cancel)
	err := tui.RunProgress(model, stderr, stream.Handlers{OnEvent: rec.onEvent}, func(h stream.Handlers) *types.StreamOutcome {
		out, streamErr = client.Stream(streamCtx, choice.request, h)
		return out
	})
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	return out, streamErr
}

// progressPrinter prints progress and error lines to w.
func progressPrinter(w io.Writer) stream.Handlers {
	return stream.Handlers{
		OnProgress: func(env types.EventEnvelope) {
			fmt.Fprintf(w, "[%d] %s: %s (+%s)\n",
				env.Seq,
				env.Event.Progress.Step,
				env.Event.Progress.Message,
				env.SinceLastProgress.Round(time.Millisecond),
			)
		},
		OnError: func(message string) {
			fmt.Fprintf(w, "error: %s\n", message)
		},
	}
}

func outcomeToExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return exitSuccess
	case types.OutcomeServerError:
		return exitServerError
	case types.OutcomeTransportError, types.OutcomeProtocolError, types.OutcomeIdleTimeout:
		return exitStreamFailed
	case types.OutcomeAbandoned:
		return exitAbandoned
	default:
		return exitStreamFailed
	}
}

func snapshotFields(s metrics.Snapshot) map[string]any {
	return map[string]any{
		"streams_started":       s.StreamsStarted,
		"streams_by_status":     s.StreamsByStatus,
		"progress_events":       s.ProgressEvents,
		"heartbeat_events":      s.HeartbeatEvents,
		"malformed_frames":      s.MalformedFrames,
		"unknown_events":        s.UnknownEvents,
		"ignored_lines":         s.IgnoredLines,
		"bytes_read":            s.BytesRead,
		"archive_write_success": s.ArchiveWriteSuccess,
		"archive_write_failure": s.ArchiveWriteFailure,
		"publish_success":       s.PublishSuccess,
		"publish_failure":       s.PublishFailure,
	}
}
