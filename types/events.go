package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the frame discriminator carried in the "type" field.
type EventType string

// Event type constants for the progress stream wire protocol.
const (
	EventTypeProgress  EventType = "progress"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// IsTerminal returns true if this event type ends the stream.
func (e EventType) IsTerminal() bool {
	return e == EventTypeComplete || e == EventTypeError
}

// IsKnown returns true for the event types this client understands.
// Unknown types are skipped so that newer servers stay compatible.
func (e EventType) IsKnown() bool {
	switch e {
	case EventTypeProgress, EventTypeComplete, EventTypeError, EventTypeHeartbeat:
		return true
	default:
		return false
	}
}

// StreamEvent is a decoded frame.
// Exactly one payload pointer is set for progress, complete and error
// events; heartbeat events carry no payload.
type StreamEvent struct {
	Type     EventType        `msgpack:"type" json:"type"`
	Progress *ProgressPayload `msgpack:"progress,omitempty" json:"progress,omitempty"`
	Complete *CompletePayload `msgpack:"complete,omitempty" json:"complete,omitempty"`
	Error    *ErrorPayload    `msgpack:"error,omitempty" json:"error,omitempty"`
}

// NewProgressEvent builds a progress event.
func NewProgressEvent(step, message string) StreamEvent {
	return StreamEvent{
		Type:     EventTypeProgress,
		Progress: &ProgressPayload{Step: step, Message: message},
	}
}

// NewCompleteEvent builds a complete event. intentType may be nil.
func NewCompleteEvent(response string, intentType *string) StreamEvent {
	return StreamEvent{
		Type:     EventTypeComplete,
		Complete: &CompletePayload{Response: response, IntentType: intentType},
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(message string) StreamEvent {
	return StreamEvent{
		Type:  EventTypeError,
		Error: &ErrorPayload{Message: message},
	}
}

// NewHeartbeatEvent builds a heartbeat event.
func NewHeartbeatEvent() StreamEvent {
	return StreamEvent{Type: EventTypeHeartbeat}
}

// Validate checks that the payload matching Type is present.
func (e StreamEvent) Validate() error {
	switch e.Type {
	case EventTypeProgress:
		if e.Progress == nil {
			return fmt.Errorf("progress event has no progress payload")
		}
	case EventTypeComplete:
		if e.Complete == nil {
			return fmt.Errorf("complete event has no complete payload")
		}
	case EventTypeError:
		if e.Error == nil {
			return fmt.Errorf("error event has no error payload")
		}
	case EventTypeHeartbeat:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// ProgressPayload is the nested "progress" object of a progress frame.
// Fields other than step and message are kept verbatim in Extra.
type ProgressPayload struct {
	// Step is a machine-readable step label.
	Step string `msgpack:"step"`
	// Message is a human-readable status line.
	Message string `msgpack:"message"`
	// Extra holds every other field of the progress object.
	Extra map[string]json.RawMessage `msgpack:"extra,omitempty"`
}

// UnmarshalJSON lifts step and message and keeps the remaining fields.
func (p *ProgressPayload) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*p = ProgressPayload{}
	for k, v := range fields {
		switch k {
		case "step":
			if err := unmarshalOptionalString(v, &p.Step); err != nil {
				return fmt.Errorf("progress.step: %w", err)
			}
		case "message":
			if err := unmarshalOptionalString(v, &p.Message); err != nil {
				return fmt.Errorf("progress.message: %w", err)
			}
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes step, message and the extra fields as one object.
func (p ProgressPayload) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(p.Extra)+2)
	for k, v := range p.Extra {
		fields[k] = v
	}
	step, err := json.Marshal(p.Step)
	if err != nil {
		return nil, err
	}
	message, err := json.Marshal(p.Message)
	if err != nil {
		return nil, err
	}
	fields["step"] = step
	fields["message"] = message
	return json.Marshal(fields)
}

// unmarshalOptionalString accepts a JSON string or null.
func unmarshalOptionalString(raw json.RawMessage, dst *string) error {
	if string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// CompletePayload is the body of a complete frame.
type CompletePayload struct {
	// Response is the final assistant response text.
	Response string `msgpack:"response" json:"response"`
	// IntentType is the optional intent tag resolved by the backend.
	IntentType *string `msgpack:"intent_type,omitempty" json:"intent_type,omitempty"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	// Message is the server-supplied error message.
	Message string `msgpack:"message" json:"message"`
}

// EventEnvelope wraps a StreamEvent with metadata computed on arrival.
type EventEnvelope struct {
	// Event is the decoded event.
	Event StreamEvent `msgpack:"event" json:"event"`
	// ReceivedAt is the wall-clock arrival time.
	ReceivedAt time.Time `msgpack:"received_at" json:"received_at"`
	// SinceStart is the time elapsed since the stream started.
	SinceStart time.Duration `msgpack:"since_start" json:"since_start"`
	// SinceLastProgress is the time since the previous progress event,
	// or since stream start for the first one. Zero for other types.
	SinceLastProgress time.Duration `msgpack:"since_last_progress" json:"since_last_progress"`
	// Seq is the 1-based progress sequence number. Zero for other types.
	Seq int64 `msgpack:"seq" json:"seq"`
}
