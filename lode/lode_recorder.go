package lode

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/types"
)

// Config holds the partition identity of one LodeRecorder.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// SessionID is the session partition key.
	SessionID string
	// Day is the partition day derived from session start (YYYY-MM-DD UTC).
	Day string
}

// LodeRecorder writes cycle records into a Lode dataset.
// Uses Lode's HiveLayout with partition keys day/session_id/record_kind.
type LodeRecorder struct {
	dataset lode.Dataset
	config  Config
}

// NewLodeRecorder creates a recorder over the given store factory.
// Use lode.NewFSFactory for disk, NewS3StoreFactory for S3 and
// lode.NewMemoryFactory for tests.
func NewLodeRecorder(cfg Config, factory lode.StoreFactory) (*LodeRecorder, error) {
	if err := validName(cfg.SessionID); err != nil {
		return nil, err
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &LodeRecorder{dataset: ds, config: cfg}, nil
}

// RecordCycle writes one cycle record.
func (r *LodeRecorder) RecordCycle(ctx context.Context, rec *types.CycleRecord) error {
	record := toCycleRecordMap(rec, r.config.Day)
	if _, err := r.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, r.partitionPath(RecordKindCycle))
	}
	return nil
}

// WriteMetrics writes a process-level metrics snapshot.
func (r *LodeRecorder) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, completedAt)
	if _, err := r.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, r.partitionPath(RecordKindMetrics))
	}
	return nil
}

// Close releases recorder resources.
func (r *LodeRecorder) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

func (r *LodeRecorder) partitionPath(kind string) string {
	return fmt.Sprintf("%s/day=%s/session_id=%s/record_kind=%s",
		r.config.Dataset, r.config.Day, r.config.SessionID, kind)
}

// LodeRecorderFactory opens one LodeRecorder per session on a shared store.
type LodeRecorderFactory struct {
	Dataset string
	Factory lode.StoreFactory
}

// ForSession implements RecorderFactory.
func (f LodeRecorderFactory) ForSession(sessionID string, start time.Time) (Recorder, error) {
	return NewLodeRecorder(Config{
		Dataset:   f.dataset(),
		SessionID: sessionID,
		Day:       DeriveDay(start),
	}, f.Factory)
}

// MetricsRecorder opens the recorder for process-level records.
func (f LodeRecorderFactory) MetricsRecorder(now time.Time) (*LodeRecorder, error) {
	return NewLodeRecorder(Config{
		Dataset:   f.dataset(),
		SessionID: ProcessSessionID,
		Day:       DeriveDay(now),
	}, f.Factory)
}

func (f LodeRecorderFactory) dataset() string {
	if f.Dataset == "" {
		return DefaultDataset
	}
	return f.Dataset
}

var (
	_ Recorder        = (*LodeRecorder)(nil)
	_ RecorderFactory = LodeRecorderFactory{}
)
