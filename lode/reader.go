package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/llmer/types"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// ReadCycles returns every cycle record in the dataset, optionally limited
// to one session, ordered by completion time. Records seen in more than one
// snapshot are returned once.
func ReadCycles(ctx context.Context, ds lode.Dataset, sessionID string) ([]types.CycleRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	seen := make(map[string]struct{})
	var out []types.CycleRecord
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindCycle) {
			continue
		}
		if !snapshotMatchesFilter(snap, "session_id", sessionID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindCycle {
				continue
			}
			if sessionID != "" && toString(record["session_id"]) != sessionID {
				continue
			}

			row, err := decodeCycleRow(record)
			if err != nil {
				return nil, err
			}
			key := fmt.Sprintf("%s/%d", row.SessionID, row.Cycle)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, row.toCycleRecord())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out, nil
}

// QueryLatestMetrics finds and reads the most recent metrics record.
// Returns the raw record map or ErrNoMetricsFound if none exist.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	// Iterate in reverse (latest first)
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindMetrics) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		var latest map[string]any
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if latest == nil || toString(record["ts"]) > toString(latest["ts"]) {
				latest = record
			}
		}
		if latest != nil {
			return latest, nil
		}
	}

	return nil, ErrNoMetricsFound
}

func decodeCycleRow(record map[string]any) (*CycleRow, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("re-encode cycle record: %w", err)
	}
	var row CycleRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode cycle record: %w", err)
	}
	return &row, nil
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
