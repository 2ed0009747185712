package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskstream/types"
)

// NewReadDataset opens a dataset for reading with the write-path layout.
func NewReadDataset(cfg Config, factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := newDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, wrap("init", cfg.dataset(), err)
	}
	return ds, nil
}

// QueryOutcomes returns archived stream outcomes, newest snapshot first.
// projectID filters by project when non-empty. limit <= 0 means no limit.
func QueryOutcomes(ctx context.Context, ds lode.Dataset, projectID string, limit int) ([]*types.StreamOutcome, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", "snapshots", err)
	}

	var project string
	if projectID != "" {
		project = projectPartition(projectID)
	}

	var outcomes []*types.StreamOutcome
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "event_type", outcomeEventType) || !snapshotMatches(snap, "project", project) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
		}

		// Manifest paths are a coarse pre-filter; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindOutcome {
				continue
			}
			if projectID != "" && record["project_id"] != projectID {
				continue
			}
			out, err := fromOutcomeRecord(record)
			if err != nil {
				return nil, wrap("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
			}
			outcomes = append(outcomes, out)
			if limit > 0 && len(outcomes) >= limit {
				return outcomes, nil
			}
		}
	}
	return outcomes, nil
}

// snapshotMatches reports whether any file of snap lies under key=value.
// An empty value matches everything.
func snapshotMatches(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}
