package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"testing"
)

func TestEventType_IsTerminal(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventTypeComplete, true},
		{EventTypeError, true},
		{EventTypeProgress, false},
		{EventTypeHeartbeat, false},
		{EventType("status"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			got := tt.eventType.IsTerminal()
			if got != tt.want {
				t.Errorf("EventType(%q).IsTerminal() = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestEventType_IsKnown(t *testing.T) {
	for _, et := range []EventType{EventTypeProgress, EventTypeComplete, EventTypeError, EventTypeHeartbeat} {
		if !et.IsKnown() {
			t.Errorf("EventType(%q).IsKnown() = false, want true", et)
		}
	}
	for _, et := range []EventType{"", "status", "PROGRESS"} {
		if et.IsKnown() {
			t.Errorf("EventType(%q).IsKnown() = true, want false", et)
		}
	}
}

func TestProgressPayload_UnmarshalLiftsExtraFields(t *testing.T) {
	raw := `{"step":"plan","message":"planning tasks","percent":40,"task":{"id":"t-1"}}`

	var p ProgressPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if p.Step != "plan" {
		t.Errorf("Step = %q, want %q", p.Step, "plan")
	}
	if p.Message != "planning tasks" {
		t.Errorf("Message = %q, want %q", p.Message, "planning tasks")
	}
	if len(p.Extra) != 2 {
		t.Fatalf("len(Extra) = %d, want 2", len(p.Extra))
	}
	if string(p.Extra["percent"]) != "40" {
		t.Errorf("Extra[percent] = %s, want 40", p.Extra["percent"])
	}
	if string(p.Extra["task"]) != `{"id":"t-1"}` {
		t.Errorf("Extra[task] = %s, want {\"id\":\"t-1\"}", p.Extra["task"])
	}
}

func TestProgressPayload_UnmarshalNullFields(t *testing.T) {
	var p ProgressPayload
	if err := json.Unmarshal([]byte(`{"step":null,"message":"m"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Step != "" || p.Message != "m" {
		t.Errorf("got %+v", p)
	}
	if p.Extra != nil {
		t.Errorf("Extra = %v, want nil", p.Extra)
	}
}

func TestProgressPayload_UnmarshalRejectsNonString(t *testing.T) {
	var p ProgressPayload
	if err := json.Unmarshal([]byte(`{"step":7}`), &p); err == nil {
		t.Fatal("expected error for numeric step")
	}
	if err := json.Unmarshal([]byte(`"not an object"`), &p); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestProgressPayload_MarshalMergesExtra(t *testing.T) {
	p := ProgressPayload{
		Step:    "search",
		Message: "searching",
		Extra:   map[string]json.RawMessage{"hits": json.RawMessage(`3`)},
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["step"] != "search" || fields["message"] != "searching" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if fields["hits"] != float64(3) {
		t.Errorf("hits = %v, want 3", fields["hits"])
	}
}

func TestStreamEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   StreamEvent
		wantErr bool
	}{
		{"progress", NewProgressEvent("a", "b"), false},
		{"complete", NewCompleteEvent("done", nil), false},
		{"error", NewErrorEvent("boom"), false},
		{"heartbeat", NewHeartbeatEvent(), false},
		{"progress without payload", StreamEvent{Type: EventTypeProgress}, true},
		{"complete without payload", StreamEvent{Type: EventTypeComplete}, true},
		{"error without payload", StreamEvent{Type: EventTypeError}, true},
		{"unknown", StreamEvent{Type: "status"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatRequest_Validate(t *testing.T) {
	if err := (ChatRequest{ProjectID: "p1", Message: "hi"}).Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := (ChatRequest{Message: "hi"}).Validate(); err == nil {
		t.Error("expected error for missing project id")
	}
	if err := (ChatRequest{ProjectID: "p1"}).Validate(); err == nil {
		t.Error("expected error for missing message")
	}
}
