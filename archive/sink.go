// Package archive persists finished streams to a Lode dataset.
//
// Records are Hive-partitioned by project, day, stream_id and event_type.
// Each archived stream contributes one event record per dispatched event
// and one outcome record.
package archive

import (
	"context"
	"errors"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskstream/types"
)

// DefaultDataset is the default Lode dataset ID.
const DefaultDataset = "taskstream"

// Config holds archive configuration.
type Config struct {
	// Dataset is the Lode dataset ID (default "taskstream").
	Dataset string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// Sink stores finished streams.
type Sink interface {
	// WriteEvents writes the events of one stream, preserving order.
	WriteEvents(ctx context.Context, meta StreamMeta, events []types.EventEnvelope) error
	// WriteOutcome writes the outcome of one stream.
	WriteOutcome(ctx context.Context, outcome *types.StreamOutcome) error
	// Close releases sink resources.
	Close() error
}

// LodeSink is a Lode-backed Sink.
type LodeSink struct {
	dataset lode.Dataset
	config  Config
}

// NewLodeSink creates a sink with filesystem storage rooted at root.
func NewLodeSink(cfg Config, root string) (*LodeSink, error) {
	return NewLodeSinkWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeSinkWithFactory creates a sink with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeSinkWithFactory(cfg Config, factory lode.StoreFactory) (*LodeSink, error) {
	ds, err := newDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, wrap("init", cfg.dataset(), err)
	}
	return &LodeSink{dataset: ds, config: cfg}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteEvents writes a batch of events as one snapshot.
func (s *LodeSink) WriteEvents(ctx context.Context, meta StreamMeta, events []types.EventEnvelope) error {
	if len(events) == 0 {
		return nil
	}
	if meta.StreamID == "" || meta.ProjectID == "" {
		return errors.New("archive: stream id and project id are required")
	}

	records := make([]any, 0, len(events))
	for _, env := range events {
		records = append(records, toEventRecordMap(meta, env))
	}

	if _, err := s.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return wrap("write", meta.partitionPath(string(events[0].Event.Type)), err)
	}
	return nil
}

// WriteOutcome writes the outcome record.
func (s *LodeSink) WriteOutcome(ctx context.Context, outcome *types.StreamOutcome) error {
	if outcome == nil {
		return errors.New("archive: outcome is required")
	}
	if outcome.StreamID == "" || outcome.ProjectID == "" {
		return errors.New("archive: stream id and project id are required")
	}

	record, err := toOutcomeRecordMap(outcome)
	if err != nil {
		return err
	}

	if _, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		meta := StreamMeta{StreamID: outcome.StreamID, ProjectID: outcome.ProjectID, StartedAt: outcome.StartedAt}
		return wrap("write", meta.partitionPath(outcomeEventType), err)
	}
	return nil
}

// Dataset returns the underlying dataset, for queries.
func (s *LodeSink) Dataset() lode.Dataset {
	return s.dataset
}

// Close releases sink resources.
func (s *LodeSink) Close() error {
	return nil
}

var _ Sink = (*LodeSink)(nil)
