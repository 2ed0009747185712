package archive

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pithecene-io/taskstream/types"
)

// Record kind discriminator values.
const (
	RecordKindEvent   = "event"
	RecordKindOutcome = "outcome"
)

// Partition keys, in layout order.
var partitionKeys = []string{"project", "day", "stream_id", "event_type"}

// outcomeEventType is the event_type partition value of outcome records.
const outcomeEventType = "outcome"

// DeriveDay computes the partition day from the stream start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startedAt time.Time) string {
	return startedAt.UTC().Format("2006-01-02")
}

// projectPartition escapes a project id for use as a partition value.
func projectPartition(projectID string) string {
	return url.PathEscape(projectID)
}

// StreamMeta identifies the stream a batch of events belongs to.
type StreamMeta struct {
	StreamID  string
	ProjectID string
	StartedAt time.Time
}

func (m StreamMeta) partitions(eventType string) map[string]any {
	return map[string]any{
		"project":    projectPartition(m.ProjectID),
		"day":        DeriveDay(m.StartedAt),
		"stream_id":  m.StreamID,
		"event_type": eventType,
	}
}

// partitionPath renders the hive path of a partition, for error context.
func (m StreamMeta) partitionPath(eventType string) string {
	return fmt.Sprintf("project=%s/day=%s/stream_id=%s/event_type=%s",
		projectPartition(m.ProjectID), DeriveDay(m.StartedAt), m.StreamID, eventType)
}

// StreamPrefix renders the dataset-relative directory holding every
// record of the stream.
// Format: datasets/<dataset>/partitions/project=<p>/day=<d>/stream_id=<id>
func (m StreamMeta) StreamPrefix(dataset string) string {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return fmt.Sprintf("datasets/%s/partitions/project=%s/day=%s/stream_id=%s",
		dataset, projectPartition(m.ProjectID), DeriveDay(m.StartedAt), m.StreamID)
}

// toEventRecordMap converts a dispatched event to a storage record.
func toEventRecordMap(meta StreamMeta, env types.EventEnvelope) map[string]any {
	m := meta.partitions(string(env.Event.Type))
	m["record_kind"] = RecordKindEvent
	m["project_id"] = meta.ProjectID
	m["seq"] = env.Seq
	m["received_at"] = env.ReceivedAt.UTC().Format(time.RFC3339Nano)
	m["since_start_ms"] = env.SinceStart.Milliseconds()

	switch ev := env.Event; ev.Type {
	case types.EventTypeProgress:
		m["since_last_progress_ms"] = env.SinceLastProgress.Milliseconds()
		m["step"] = ev.Progress.Step
		m["message"] = ev.Progress.Message
		if len(ev.Progress.Extra) > 0 {
			m["extra"] = ev.Progress.Extra
		}
	case types.EventTypeComplete:
		m["response"] = ev.Complete.Response
		if ev.Complete.IntentType != nil {
			m["intent_type"] = *ev.Complete.IntentType
		}
	case types.EventTypeError:
		m["message"] = ev.Error.Message
	}
	return m
}

// toOutcomeRecordMap converts a stream outcome to a storage record.
// The record carries every StreamOutcome field under its JSON name.
func toOutcomeRecordMap(out *types.StreamOutcome) (map[string]any, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}

	meta := StreamMeta{StreamID: out.StreamID, ProjectID: out.ProjectID, StartedAt: out.StartedAt}
	for k, v := range meta.partitions(outcomeEventType) {
		m[k] = v
	}
	m["record_kind"] = RecordKindOutcome
	return m, nil
}

// fromOutcomeRecord decodes a stored outcome record.
func fromOutcomeRecord(record map[string]any) (*types.StreamOutcome, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var out types.StreamOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
