package reader

import "errors"

// ParseMetricsRecord converts a Lode record (map[string]any) to a MetricsSnapshot.
// Handles both int64 (direct writes) and float64 (JSON round-trips) for numeric fields.
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts:             toString(record["ts"]),
		Model:          toString(record["model"]),
		StorageBackend: toString(record["storage_backend"]),

		SessionsStarted:     toInt64(record["sessions_started_total"]),
		SessionsClosed:      toInt64(record["sessions_closed_total"]),
		SessionsFailed:      toInt64(record["sessions_failed_total"]),
		ConnectionsRejected: toInt64(record["connections_rejected_total"]),

		FramesReceived: toInt64(record["frames_received_total"]),
		FramesSent:     toInt64(record["frames_sent_total"]),
		ProtocolErrors: toInt64(record["protocol_errors_total"]),
		WriteErrors:    toInt64(record["write_errors_total"]),
		ImagesReceived: toInt64(record["images_received_total"]),

		CyclesCompleted:  toInt64(record["cycles_completed_total"]),
		BackendErrors:    toInt64(record["backend_errors_total"]),
		CommandParseErrs: toInt64(record["command_parse_errors_total"]),

		StatsWriteSuccess: toInt64(record["stats_write_success_total"]),
		StatsWriteFailure: toInt64(record["stats_write_failure_total"]),
	}

	if sbt, ok := record["sentences_by_type"]; ok && sbt != nil {
		snap.SentencesByType = parseCounts(sbt)
	}

	// The write path always populates these.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.StorageBackend == "" {
		return nil, errors.New("metrics record missing required field: storage_backend")
	}

	return snap, nil
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCounts handles both map[string]int64 (direct) and map[string]any
// (JSON round-trip).
func parseCounts(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}
