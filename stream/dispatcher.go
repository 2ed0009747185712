package stream

import (
	"time"

	"github.com/pithecene-io/taskstream/log"
	"github.com/pithecene-io/taskstream/metrics"
	"github.com/pithecene-io/taskstream/types"
)

// Handlers are the caller callbacks for one stream. All are optional;
// a nil handler drops that event class.
//
// Handlers run synchronously on the read loop. A slow handler delays
// the next read.
type Handlers struct {
	// OnProgress receives every progress event with its metadata.
	OnProgress func(env types.EventEnvelope)
	// OnComplete receives the completion. intentType may be nil.
	OnComplete func(response string, intentType *string)
	// OnError receives the message of any fatal condition.
	OnError func(message string)
	// OnEvent receives every dispatched event, heartbeats included,
	// before the typed handler. Used for recording.
	OnEvent func(env types.EventEnvelope)
}

// Dispatcher routes decoded events to Handlers for a single stream.
//   - Progress events are numbered 1, 2, 3... and timed
//   - The first terminal event wins; nothing is dispatched afterwards
//   - OnComplete and OnError fire at most once each, never both
//   - After Abandon no handler fires
type Dispatcher struct {
	handlers  Handlers
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	start        time.Time
	lastProgress time.Time
	seq          int64

	done      bool
	abandoned bool
	terminal  *types.StreamEvent
	failure   *StreamError
}

// NewDispatcher creates a dispatcher whose stream starts now.
// logger and collector may be nil. now defaults to time.Now.
func NewDispatcher(h Handlers, logger *log.Logger, collector *metrics.Collector, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		handlers:  h,
		logger:    logger,
		collector: collector,
		now:       now,
		start:     now(),
	}
}

// Dispatch routes one event. Returns true once the stream is done,
// meaning the caller must stop reading.
func (d *Dispatcher) Dispatch(ev types.StreamEvent) bool {
	if d.done {
		d.logger.Debug("dropping event after stream end", map[string]any{
			"type": ev.Type,
		})
		return true
	}
	if err := ev.Validate(); err != nil {
		d.logger.Warn("ignoring invalid event", map[string]any{
			"type":  ev.Type,
			"error": err.Error(),
		})
		return false
	}

	now := d.now()
	env := types.EventEnvelope{
		Event:      ev,
		ReceivedAt: now,
		SinceStart: now.Sub(d.start),
	}

	switch ev.Type {
	case types.EventTypeProgress:
		d.seq++
		env.Seq = d.seq
		if d.seq == 1 {
			env.SinceLastProgress = env.SinceStart
		} else {
			env.SinceLastProgress = now.Sub(d.lastProgress)
		}
		d.lastProgress = now
		d.collector.IncProgress()

		if d.handlers.OnEvent != nil {
			d.handlers.OnEvent(env)
		}
		if d.handlers.OnProgress != nil {
			d.handlers.OnProgress(env)
		}

	case types.EventTypeHeartbeat:
		d.collector.IncHeartbeat()
		d.logger.Debug("heartbeat", map[string]any{
			"since_start_ms": env.SinceStart.Milliseconds(),
		})
		if d.handlers.OnEvent != nil {
			d.handlers.OnEvent(env)
		}

	case types.EventTypeComplete:
		d.finish(ev)
		if d.handlers.OnEvent != nil {
			d.handlers.OnEvent(env)
		}
		if d.handlers.OnComplete != nil {
			d.handlers.OnComplete(ev.Complete.Response, ev.Complete.IntentType)
		}

	case types.EventTypeError:
		d.finish(ev)
		d.failure = &StreamError{Kind: ErrorKindServer, Message: ev.Error.Message}
		if d.handlers.OnEvent != nil {
			d.handlers.OnEvent(env)
		}
		if d.handlers.OnError != nil {
			d.handlers.OnError(ev.Error.Message)
		}
	}

	return d.done
}

func (d *Dispatcher) finish(ev types.StreamEvent) {
	d.done = true
	d.terminal = &ev
	d.collector.IncTerminal()
	d.logger.Info("terminal event received", map[string]any{
		"type":           ev.Type,
		"progress_count": d.seq,
	})
}

// Fail ends the stream with a client-side failure and invokes OnError
// once with err.Error(). It is a no-op if the stream is already done.
func (d *Dispatcher) Fail(err *StreamError) {
	if d.done {
		return
	}
	d.done = true
	d.failure = err
	d.logger.Error("stream failed", map[string]any{
		"kind":  err.Kind.String(),
		"error": err.Error(),
	})
	if d.handlers.OnError != nil {
		d.handlers.OnError(err.Error())
	}
}

// Abandon ends the stream without invoking any handler.
func (d *Dispatcher) Abandon() {
	if d.done {
		return
	}
	d.done = true
	d.abandoned = true
}

// Done returns true once a terminal event, failure or abandonment occurred.
func (d *Dispatcher) Done() bool {
	return d.done
}

// Abandoned returns true if the stream was abandoned.
func (d *Dispatcher) Abandoned() bool {
	return d.abandoned
}

// Terminal returns the terminal event, if one was dispatched.
func (d *Dispatcher) Terminal() (*types.StreamEvent, bool) {
	return d.terminal, d.terminal != nil
}

// Failure returns the failure that ended the stream, if any.
// A server error frame is reported as ErrorKindServer.
func (d *Dispatcher) Failure() *StreamError {
	return d.failure
}

// ProgressCount returns the number of progress events dispatched.
func (d *Dispatcher) ProgressCount() int64 {
	return d.seq
}

// Start returns the stream start time.
func (d *Dispatcher) Start() time.Time {
	return d.start
}
