// Package types defines core domain types for the taskstream client.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"time"
)

// OutcomeStatus is the final status of one streaming request.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates a complete frame was dispatched.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeServerError indicates the server sent an error frame.
	OutcomeServerError OutcomeStatus = "server_error"
	// OutcomeTransportError indicates a failed request, a non-2xx
	// response, a missing body or a broken read.
	OutcomeTransportError OutcomeStatus = "transport_error"
	// OutcomeProtocolError indicates the stream closed without a terminal frame.
	OutcomeProtocolError OutcomeStatus = "protocol_error"
	// OutcomeIdleTimeout indicates no progress or heartbeat arrived in time.
	OutcomeIdleTimeout OutcomeStatus = "idle_timeout"
	// OutcomeAbandoned indicates the caller canceled the stream.
	OutcomeAbandoned OutcomeStatus = "abandoned"
)

// IsSuccess returns true for OutcomeSuccess.
func (s OutcomeStatus) IsSuccess() bool {
	return s == OutcomeSuccess
}

// StreamOutcome summarizes a terminated stream.
type StreamOutcome struct {
	// StreamID identifies the stream in logs, transcripts and archives.
	StreamID string `msgpack:"stream_id" json:"stream_id"`
	// ProjectID is the project the request was issued for.
	ProjectID string `msgpack:"project_id" json:"project_id"`
	// Status is the terminal status.
	Status OutcomeStatus `msgpack:"status" json:"status"`
	// Message is the error message for failed streams.
	Message string `msgpack:"message,omitempty" json:"message,omitempty"`
	// Response is the completion text for successful streams.
	Response string `msgpack:"response,omitempty" json:"response,omitempty"`
	// IntentType is the optional intent tag of the completion.
	IntentType *string `msgpack:"intent_type,omitempty" json:"intent_type,omitempty"`
	// StatusCode is the HTTP status of the initial response, when one arrived.
	StatusCode int `msgpack:"status_code,omitempty" json:"status_code,omitempty"`
	// Detail is the structured "details" field of a non-2xx response body.
	Detail json.RawMessage `msgpack:"detail,omitempty" json:"detail,omitempty"`
	// ProgressCount is the number of progress events dispatched.
	ProgressCount int64 `msgpack:"progress_count" json:"progress_count"`
	// StartedAt is when the request was issued.
	StartedAt time.Time `msgpack:"started_at" json:"started_at"`
	// DurationMs is the stream lifetime in milliseconds.
	DurationMs int64 `msgpack:"duration_ms" json:"duration_ms"`
}
