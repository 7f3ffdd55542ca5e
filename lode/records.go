package lode

import (
	"time"

	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/types"
)

// RecordKind discriminator values. record_kind is also the last partition key.
const (
	RecordKindCycle   = "cycle"
	RecordKindMetrics = "metrics"
)

// ProcessSessionID is the session partition used for process-level records.
const ProcessSessionID = "process"

// partitionKeys is the Hive layout of every llmer dataset.
var partitionKeys = []string{"day", "session_id", "record_kind"}

// CycleRow is the storage format of a cycle record.
type CycleRow struct {
	RecordKind      string       `json:"record_kind"`
	ContractVersion string       `json:"contract_version"`
	SessionID       string       `json:"session_id"`
	Cycle           int          `json:"cycle"`
	Model           string       `json:"model"`
	TotalTokens     int          `json:"total_tokens"`
	InputTokens     int          `json:"input_tokens"`
	OutputTokens    int          `json:"output_tokens"`
	LatencySeconds  float64      `json:"latency_seconds"`
	Commands        []string     `json:"commands"`
	CompletedAt     string       `json:"completed_at"`
	Turns           []types.Turn `json:"turns"`
	Response        string       `json:"response"`
	Day             string       `json:"day"`
}

// toCycleRecordMap converts a cycle record to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toCycleRecordMap(rec *types.CycleRecord, day string) map[string]any {
	turns := make([]map[string]any, 0, len(rec.Turns))
	for _, t := range rec.Turns {
		m := map[string]any{
			"role":    string(t.Speaker),
			"content": t.Text,
		}
		if t.Name != "" {
			m["name"] = t.Name
		}
		if t.Image != nil {
			m["image"] = map[string]any{
				"ref":          t.Image.Ref,
				"content_type": t.Image.ContentType,
			}
		}
		turns = append(turns, m)
	}

	commands := rec.Commands
	if commands == nil {
		commands = []string{}
	}

	return map[string]any{
		"record_kind":      RecordKindCycle,
		"contract_version": types.ContractVersion,
		"session_id":       rec.SessionID,
		"cycle":            rec.Cycle,
		"model":            rec.Model,
		"total_tokens":     rec.TotalTokens,
		"input_tokens":     rec.InputTokens,
		"output_tokens":    rec.OutputTokens,
		"latency_seconds":  rec.LatencySeconds,
		"commands":         commands,
		"completed_at":     rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		"turns":            turns,
		"response":         rec.Response,
		"day":              day,
	}
}

// toCycleRecord converts a decoded row back to the domain record.
func (r *CycleRow) toCycleRecord() types.CycleRecord {
	completed, _ := time.Parse(time.RFC3339Nano, r.CompletedAt)
	return types.CycleRecord{
		SessionID:      r.SessionID,
		Cycle:          r.Cycle,
		Model:          r.Model,
		TotalTokens:    r.TotalTokens,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		LatencySeconds: r.LatencySeconds,
		Commands:       r.Commands,
		CompletedAt:    completed,
		Turns:          r.Turns,
		Response:       r.Response,
	}
}

// toMetricsRecordMap converts a metrics snapshot to a map for Lode storage.
func toMetricsRecordMap(snap metrics.Snapshot, completedAt time.Time) map[string]any {
	sentences := make(map[string]any, len(snap.SentencesByCode))
	for code, n := range snap.SentencesByCode {
		sentences[types.OutgoingType(code).String()] = n
	}

	return map[string]any{
		"record_kind":                RecordKindMetrics,
		"contract_version":           types.ContractVersion,
		"session_id":                 ProcessSessionID,
		"ts":                         completedAt.UTC().Format(time.RFC3339Nano),
		"day":                        DeriveDay(completedAt),
		"model":                      snap.Model,
		"storage_backend":            snap.StorageBackend,
		"sessions_started_total":     snap.SessionsStarted,
		"sessions_closed_total":      snap.SessionsClosed,
		"sessions_failed_total":      snap.SessionsFailed,
		"connections_rejected_total": snap.ConnectionsRejected,
		"frames_received_total":      snap.FramesReceived,
		"frames_sent_total":          snap.FramesSent,
		"protocol_errors_total":      snap.ProtocolErrors,
		"write_errors_total":         snap.WriteErrors,
		"images_received_total":      snap.ImagesReceived,
		"cycles_completed_total":     snap.CyclesCompleted,
		"backend_errors_total":       snap.BackendErrors,
		"command_parse_errors_total": snap.CommandParseErrs,
		"stats_write_success_total":  snap.StatsWriteSuccess,
		"stats_write_failure_total":  snap.StatsWriteFailure,
		"sentences_by_type":          sentences,
	}
}
