package stream

import (
	"context"
	"time"
)

// watchdog cancels a stream context with errIdleTimeout when it is not
// reset within the timeout. A nil watchdog is disabled.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
}

// startWatchdog arms a watchdog. Returns nil when timeout <= 0.
func startWatchdog(timeout time.Duration, cancel context.CancelCauseFunc) *watchdog {
	if timeout <= 0 {
		return nil
	}
	return &watchdog{
		timeout: timeout,
		timer: time.AfterFunc(timeout, func() {
			cancel(errIdleTimeout)
		}),
	}
}

// Reset restarts the idle interval.
func (w *watchdog) Reset() {
	if w == nil {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog.
func (w *watchdog) Stop() {
	if w == nil {
		return
	}
	w.timer.Stop()
}
