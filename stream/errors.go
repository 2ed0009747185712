package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pithecene-io/taskstream/types"
)

// Messages for failures synthesized by the client rather than the server.
const (
	MsgClosedUnexpectedly = "connection closed unexpectedly"
	MsgNoBody             = "no body available for reading"
	MsgIdleTimeout        = "stream idle timeout"
	MsgCanceled           = "stream abandoned by caller"
)

// errIdleTimeout is the cancel cause set by the idle watchdog.
var errIdleTimeout = errors.New(MsgIdleTimeout)

// ErrorKind classifies stream failures.
type ErrorKind int

const (
	// ErrorKindTransport indicates a failed request, a non-2xx response,
	// a missing body or a broken read.
	ErrorKindTransport ErrorKind = iota
	// ErrorKindServer indicates the server sent an error frame.
	ErrorKindServer
	// ErrorKindProtocol indicates the stream ended without a terminal frame.
	ErrorKindProtocol
	// ErrorKindIdle indicates the idle watchdog expired.
	ErrorKindIdle
	// ErrorKindCanceled indicates the caller abandoned the stream.
	ErrorKindCanceled
)

// String returns a label for logs.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindServer:
		return "server"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindIdle:
		return "idle"
	case ErrorKindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Outcome maps the kind to the stream outcome status.
func (k ErrorKind) Outcome() types.OutcomeStatus {
	switch k {
	case ErrorKindServer:
		return types.OutcomeServerError
	case ErrorKindProtocol:
		return types.OutcomeProtocolError
	case ErrorKindIdle:
		return types.OutcomeIdleTimeout
	case ErrorKindCanceled:
		return types.OutcomeAbandoned
	default:
		return types.OutcomeTransportError
	}
}

// StreamError is returned by Client.Stream for every non-successful stream.
type StreamError struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Message is the human-readable failure message.
	Message string
	// StatusCode is the HTTP status for non-2xx responses.
	StatusCode int
	// Detail is the structured "details" field of a non-2xx response body.
	Detail json.RawMessage
	// Err is the underlying error, if any.
	Err error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func hasKind(err error, kind ErrorKind) bool {
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Kind == kind
	}
	return false
}

// IsTransportError returns true if the stream failed at the transport level.
func IsTransportError(err error) bool {
	return hasKind(err, ErrorKindTransport)
}

// IsServerError returns true if the server sent an error frame.
func IsServerError(err error) bool {
	return hasKind(err, ErrorKindServer)
}

// IsProtocolError returns true if the stream closed without a terminal frame.
func IsProtocolError(err error) bool {
	return hasKind(err, ErrorKindProtocol)
}

// IsIdleError returns true if the idle watchdog ended the stream.
func IsIdleError(err error) bool {
	return hasKind(err, ErrorKindIdle)
}

// IsCanceledError returns true if the caller abandoned the stream.
func IsCanceledError(err error) bool {
	return hasKind(err, ErrorKindCanceled)
}
