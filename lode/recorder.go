// Package lode persists cycle statistics, full-text logs and uploaded
// images.
//
// Two recorder backends exist: FileRecorder writes the CSV statistics file
// and the text log the relay has always produced, one pair per session.
// LodeRecorder writes the same records into a Lode dataset on the local
// filesystem or S3, partitioned by day, session and record kind.
package lode

import (
	"context"
	"time"

	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/types"
)

// DefaultDataset is the Lode dataset ID used when none is configured.
const DefaultDataset = "llmer"

// DeriveDay computes the partition day from a time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Recorder persists the statistics of completed generation cycles for one
// session. Records are append-only.
type Recorder interface {
	// RecordCycle appends one cycle record.
	RecordCycle(ctx context.Context, rec *types.CycleRecord) error

	// Close releases recorder resources.
	Close() error
}

// RecorderFactory opens a Recorder per session.
type RecorderFactory interface {
	ForSession(sessionID string, start time.Time) (Recorder, error)
}

// NopRecorder discards records.
type NopRecorder struct{}

// RecordCycle implements Recorder.
func (NopRecorder) RecordCycle(context.Context, *types.CycleRecord) error { return nil }

// Close implements Recorder.
func (NopRecorder) Close() error { return nil }

// NopRecorderFactory hands out NopRecorders.
type NopRecorderFactory struct{}

// ForSession implements RecorderFactory.
func (NopRecorderFactory) ForSession(string, time.Time) (Recorder, error) {
	return NopRecorder{}, nil
}

// InstrumentedRecorder wraps a Recorder and counts stats writes on the
// collector. Each RecordCycle call increments stats_write_success or
// stats_write_failure.
type InstrumentedRecorder struct {
	inner     Recorder
	collector *metrics.Collector
}

// NewInstrumentedRecorder wraps a recorder with metrics instrumentation.
func NewInstrumentedRecorder(inner Recorder, collector *metrics.Collector) *InstrumentedRecorder {
	return &InstrumentedRecorder{inner: inner, collector: collector}
}

// RecordCycle delegates to the inner recorder and records success or failure.
func (r *InstrumentedRecorder) RecordCycle(ctx context.Context, rec *types.CycleRecord) error {
	err := r.inner.RecordCycle(ctx, rec)
	if err != nil {
		r.collector.IncStatsWriteFailure()
	} else {
		r.collector.IncStatsWriteSuccess()
	}
	return err
}

// Close delegates to the inner recorder.
func (r *InstrumentedRecorder) Close() error {
	return r.inner.Close()
}

// instrumentedFactory wraps every recorder a factory opens.
type instrumentedFactory struct {
	inner     RecorderFactory
	collector *metrics.Collector
}

// Instrument returns a factory whose recorders count writes on collector.
func Instrument(inner RecorderFactory, collector *metrics.Collector) RecorderFactory {
	return &instrumentedFactory{inner: inner, collector: collector}
}

func (f *instrumentedFactory) ForSession(sessionID string, start time.Time) (Recorder, error) {
	rec, err := f.inner.ForSession(sessionID, start)
	if err != nil {
		return nil, err
	}
	return NewInstrumentedRecorder(rec, f.collector), nil
}

var (
	_ Recorder        = NopRecorder{}
	_ Recorder        = (*InstrumentedRecorder)(nil)
	_ RecorderFactory = NopRecorderFactory{}
)
