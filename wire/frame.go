package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/taskstream/types"
)

// DataPrefix marks a line that carries one JSON-encoded event.
const DataPrefix = "data: "

// LineKind classifies a parsed line.
type LineKind int

const (
	// LineIgnored is a line without the data prefix (padding, comments, blanks).
	LineIgnored LineKind = iota
	// LineEvent is a data line carrying a known event.
	LineEvent
	// LineUnknownType is a data line whose type is not understood.
	LineUnknownType
	// LineMalformed is a data line whose payload could not be decoded.
	LineMalformed
)

// String returns a label for logs and metrics.
func (k LineKind) String() string {
	switch k {
	case LineIgnored:
		return "ignored"
	case LineEvent:
		return "event"
	case LineUnknownType:
		return "unknown_type"
	case LineMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("LineKind(%d)", int(k))
	}
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorDecode indicates the payload is not valid JSON.
	FrameErrorDecode FrameErrorKind = iota
	// FrameErrorShape indicates valid JSON with an invalid field shape.
	FrameErrorShape
)

// FrameError represents a frame decoding error.
// Frame errors affect only the line they occur on.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if err is a *FrameError.
func IsFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// frameProbe mirrors every field any known frame type may carry.
type frameProbe struct {
	Type       types.EventType `json:"type"`
	Progress   json.RawMessage `json:"progress"`
	Response   string          `json:"response"`
	IntentType *string         `json:"intent_type"`
	Message    string          `json:"message"`
}

// ParseLine decodes one complete line.
//
// Returns:
//   - LineIgnored, nil: the line has no data prefix
//   - LineEvent, nil: the event is valid
//   - LineUnknownType, nil: the event type is not understood
//   - LineMalformed, *FrameError: the payload could not be decoded
func ParseLine(line string) (types.StreamEvent, LineKind, error) {
	payload, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return types.StreamEvent{}, LineIgnored, nil
	}

	var probe frameProbe
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return types.StreamEvent{}, LineMalformed, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame",
			Err:  err,
		}
	}

	if !probe.Type.IsKnown() {
		return types.StreamEvent{Type: probe.Type}, LineUnknownType, nil
	}

	switch probe.Type {
	case types.EventTypeProgress:
		progress := &types.ProgressPayload{}
		if len(probe.Progress) > 0 && string(probe.Progress) != "null" {
			if err := json.Unmarshal(probe.Progress, progress); err != nil {
				return types.StreamEvent{}, LineMalformed, &FrameError{
					Kind: FrameErrorShape,
					Msg:  "failed to decode progress object",
					Err:  err,
				}
			}
		}
		return types.StreamEvent{Type: types.EventTypeProgress, Progress: progress}, LineEvent, nil

	case types.EventTypeComplete:
		return types.NewCompleteEvent(probe.Response, probe.IntentType), LineEvent, nil

	case types.EventTypeError:
		return types.NewErrorEvent(probe.Message), LineEvent, nil

	default: // heartbeat
		return types.NewHeartbeatEvent(), LineEvent, nil
	}
}

// wireFrame is the JSON shape written by EncodeFrame.
type wireFrame struct {
	Type       types.EventType        `json:"type"`
	Progress   *types.ProgressPayload `json:"progress,omitempty"`
	Response   *string                `json:"response,omitempty"`
	IntentType *string                `json:"intent_type,omitempty"`
	Message    *string                `json:"message,omitempty"`
}

// EncodeFrame renders an event as one "data: " line including the
// trailing newline. It is the inverse of ParseLine for known events.
func EncodeFrame(ev types.StreamEvent) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	frame := wireFrame{Type: ev.Type}
	switch ev.Type {
	case types.EventTypeProgress:
		frame.Progress = ev.Progress
	case types.EventTypeComplete:
		frame.Response = &ev.Complete.Response
		frame.IntentType = ev.Complete.IntentType
	case types.EventTypeError:
		frame.Message = &ev.Error.Message
	}

	body, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", ev.Type, err)
	}

	out := make([]byte, 0, len(DataPrefix)+len(body)+1)
	out = append(out, DataPrefix...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}
