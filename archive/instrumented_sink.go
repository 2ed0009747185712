package archive

import (
	"context"

	"github.com/pithecene-io/taskstream/metrics"
	"github.com/pithecene-io/taskstream/types"
)

// InstrumentedSink wraps a Sink and counts each write call as an
// archive write success or failure on the collector.
type InstrumentedSink struct {
	inner     Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteEvents delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) WriteEvents(ctx context.Context, meta StreamMeta, events []types.EventEnvelope) error {
	return s.record(s.inner.WriteEvents(ctx, meta, events))
}

// WriteOutcome delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) WriteOutcome(ctx context.Context, outcome *types.StreamOutcome) error {
	return s.record(s.inner.WriteOutcome(ctx, outcome))
}

func (s *InstrumentedSink) record(err error) error {
	if err != nil {
		s.collector.IncArchiveWriteFailure()
	} else {
		s.collector.IncArchiveWriteSuccess()
	}
	return err
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ Sink = (*InstrumentedSink)(nil)
