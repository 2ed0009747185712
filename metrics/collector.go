// Package metrics provides stream metrics collection.
//
// A Collector accumulates counters across the streams issued by one
// client. It is a leaf package with no internal dependencies; outcome
// statuses are passed in as plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Stream lifecycle
	StreamsStarted  int64
	StreamsByStatus map[string]int64

	// Frames
	ProgressEvents  int64
	HeartbeatEvents int64
	TerminalEvents  int64
	MalformedFrames int64
	UnknownEvents   int64
	IgnoredLines    int64
	BytesRead       int64

	// Archive
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64

	// Notifications
	PublishSuccess int64
	PublishFailure int64

	// Dimensions (informational, set at construction)
	Endpoint string
	Archive  string
}

// Collector accumulates stream metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	streamsStarted  int64
	streamsByStatus map[string]int64

	progressEvents  int64
	heartbeatEvents int64
	terminalEvents  int64
	malformedFrames int64
	unknownEvents   int64
	ignoredLines    int64
	bytesRead       int64

	archiveWriteSuccess int64
	archiveWriteFailure int64

	publishSuccess int64
	publishFailure int64

	endpoint string
	archive  string
}

// NewCollector creates a Collector with dimension labels.
// archive is the archive backend name, empty when archiving is off.
func NewCollector(endpoint, archive string) *Collector {
	return &Collector{
		streamsByStatus: make(map[string]int64),
		endpoint:        endpoint,
		archive:         archive,
	}
}

// --- Stream lifecycle ---

// IncStreamStarted records a stream start.
func (c *Collector) IncStreamStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsStarted++
	c.mu.Unlock()
}

// RecordOutcome records the terminal status of a stream.
func (c *Collector) RecordOutcome(status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsByStatus[status]++
	c.mu.Unlock()
}

// --- Frames ---

// IncProgress records a dispatched progress event.
func (c *Collector) IncProgress() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.progressEvents++
	c.mu.Unlock()
}

// IncHeartbeat records a heartbeat event.
func (c *Collector) IncHeartbeat() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.heartbeatEvents++
	c.mu.Unlock()
}

// IncTerminal records a dispatched complete or error event.
func (c *Collector) IncTerminal() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.terminalEvents++
	c.mu.Unlock()
}

// IncMalformedFrame records a data line that failed to decode.
func (c *Collector) IncMalformedFrame() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.malformedFrames++
	c.mu.Unlock()
}

// IncUnknownEvent records a data line with an unrecognized type.
func (c *Collector) IncUnknownEvent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unknownEvents++
	c.mu.Unlock()
}

// IncIgnoredLine records a line without the data prefix.
func (c *Collector) IncIgnoredLine() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ignoredLines++
	c.mu.Unlock()
}

// AddBytesRead records n body bytes read from the transport.
func (c *Collector) AddBytesRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesRead += int64(n)
	c.mu.Unlock()
}

// --- Archive ---
// Archive counters are per-call, not per-record.

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteSuccess++
	c.mu.Unlock()
}

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteFailure++
	c.mu.Unlock()
}

// --- Notifications ---

// IncPublishSuccess records a delivered stream notification.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publishSuccess++
	c.mu.Unlock()
}

// IncPublishFailure records a notification that failed after retries.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publishFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byStatus := make(map[string]int64, len(c.streamsByStatus))
	for k, v := range c.streamsByStatus {
		byStatus[k] = v
	}

	return Snapshot{
		StreamsStarted:  c.streamsStarted,
		StreamsByStatus: byStatus,

		ProgressEvents:  c.progressEvents,
		HeartbeatEvents: c.heartbeatEvents,
		TerminalEvents:  c.terminalEvents,
		MalformedFrames: c.malformedFrames,
		UnknownEvents:   c.unknownEvents,
		IgnoredLines:    c.ignoredLines,
		BytesRead:       c.bytesRead,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,

		PublishSuccess: c.publishSuccess,
		PublishFailure: c.publishFailure,

		Endpoint: c.endpoint,
		Archive:  c.archive,
	}
}
