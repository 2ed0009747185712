// Package adapter defines the notification boundary for finished streams.
//
// Adapters publish one StreamFinishedEvent per stream to a downstream
// system. Publishing happens after the stream has terminated and never
// affects its outcome.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/taskstream/types"
)

// EventTypeStreamFinished is the event_type of every published event.
const EventTypeStreamFinished = "stream_finished"

// DefaultBackoff is the default delay before the first retry.
const DefaultBackoff = 500 * time.Millisecond

// StreamFinishedEvent is the payload published when a stream terminates.
type StreamFinishedEvent struct {
	ClientVersion string  `json:"client_version"`
	EventType     string  `json:"event_type"` // always "stream_finished"
	StreamID      string  `json:"stream_id"`
	ProjectID     string  `json:"project_id"`
	Status        string  `json:"status"` // success, server_error, etc.
	Message       string  `json:"message,omitempty"`
	IntentType    *string `json:"intent_type,omitempty"`
	StatusCode    int     `json:"status_code,omitempty"`
	ProgressCount int64   `json:"progress_count"`
	ResponseBytes int     `json:"response_bytes"`
	ArchivePath   string  `json:"archive_path,omitempty"`
	StartedAt     string  `json:"started_at"` // RFC 3339
	Timestamp     string  `json:"timestamp"`  // RFC 3339
	DurationMs    int64   `json:"duration_ms"`
}

// NewStreamFinishedEvent builds the event for an outcome.
// archivePath is empty when the stream was not archived.
func NewStreamFinishedEvent(out *types.StreamOutcome, archivePath string, now time.Time) *StreamFinishedEvent {
	return &StreamFinishedEvent{
		ClientVersion: types.Version,
		EventType:     EventTypeStreamFinished,
		StreamID:      out.StreamID,
		ProjectID:     out.ProjectID,
		Status:        string(out.Status),
		Message:       out.Message,
		IntentType:    out.IntentType,
		StatusCode:    out.StatusCode,
		ProgressCount: out.ProgressCount,
		ResponseBytes: len(out.Response),
		ArchivePath:   archivePath,
		StartedAt:     out.StartedAt.UTC().Format(time.RFC3339),
		Timestamp:     now.UTC().Format(time.RFC3339),
		DurationMs:    out.DurationMs,
	}
}

// Adapter publishes stream events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *StreamFinishedEvent) error

	// Close releases adapter resources.
	Close() error
}

// RetryDelay returns the exponential backoff before retry attempt i (1-based):
// base, 2*base, 4*base...
func RetryDelay(base time.Duration, i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * base
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs attempt up to 1+retries times with exponential backoff from
// base. It stops at the first success, when ctx is done, or when final
// reports the error as not worth retrying. final may be nil.
func Retry(ctx context.Context, retries int, base time.Duration, final func(error) bool, attempt func(context.Context) error) error {
	var lastErr error
	for i := range 1 + retries {
		if err := Wait(ctx, RetryDelay(base, i)); err != nil {
			if lastErr != nil {
				return fmt.Errorf("canceled after %d attempts: %w (last error: %v)", i, err, lastErr)
			}
			return fmt.Errorf("canceled: %w", err)
		}
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if final != nil && final(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", 1+retries, lastErr)
}
