package reader

// CycleStats summarizes recorded generation cycles.
type CycleStats struct {
	Sessions     int     `json:"sessions"`
	Cycles       int     `json:"cycles"`
	TotalTokens  int64   `json:"total_tokens"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	MeanLatency  float64 `json:"mean_latency_seconds"`
	MaxLatency   float64 `json:"max_latency_seconds"`
	// Codes counts emitted sentences by classification code name.
	Codes map[string]int `json:"codes"`
	// Commands counts extracted command names.
	Commands map[string]int `json:"commands,omitempty"`
	// First and Last bound the completion times, RFC3339 UTC.
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

// SessionSummary is one row of the per-session breakdown.
type SessionSummary struct {
	SessionID   string  `json:"session_id"`
	Cycles      int     `json:"cycles"`
	TotalTokens int64   `json:"total_tokens"`
	MeanLatency float64 `json:"mean_latency_seconds"`
	Model       string  `json:"model"`
}

// MetricsSnapshot is the process-level counter record written at shutdown.
type MetricsSnapshot struct {
	Ts             string `json:"ts"`
	Model          string `json:"model"`
	StorageBackend string `json:"storage_backend"`

	SessionsStarted     int64 `json:"sessions_started"`
	SessionsClosed      int64 `json:"sessions_closed"`
	SessionsFailed      int64 `json:"sessions_failed"`
	ConnectionsRejected int64 `json:"connections_rejected"`

	FramesReceived int64 `json:"frames_received"`
	FramesSent     int64 `json:"frames_sent"`
	ProtocolErrors int64 `json:"protocol_errors"`
	WriteErrors    int64 `json:"write_errors"`
	ImagesReceived int64 `json:"images_received"`

	CyclesCompleted  int64 `json:"cycles_completed"`
	BackendErrors    int64 `json:"backend_errors"`
	CommandParseErrs int64 `json:"command_parse_errors"`

	StatsWriteSuccess int64 `json:"stats_write_success"`
	StatsWriteFailure int64 `json:"stats_write_failure"`

	SentencesByType map[string]int64 `json:"sentences_by_type,omitempty"`
}

// FrameView is a decoded inbound frame for the debug frames command.
type FrameView struct {
	Offset int64  `json:"offset"`
	Role   string `json:"role"`
	Code   uint8  `json:"code"`
	Length int    `json:"length"`
	// Preview holds the text payload, truncated unless verbose. Image
	// payloads show their detected content type instead.
	Preview string `json:"preview"`
}

// SessionDetail is the inspect view of one session.
type SessionDetail struct {
	SessionID   string      `json:"session_id"`
	Model       string      `json:"model"`
	Cycles      []CycleView `json:"cycles"`
	TotalTokens int64       `json:"total_tokens"`
}

// CycleView is one cycle of a SessionDetail.
type CycleView struct {
	Cycle          int     `json:"cycle"`
	TotalTokens    int     `json:"total_tokens"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	LatencySeconds float64 `json:"latency_seconds"`
	Commands       string  `json:"commands"`
	CompletedAt    string  `json:"completed_at"`
	Response       string  `json:"response"`
}
