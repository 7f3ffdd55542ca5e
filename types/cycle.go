package types

import "time"

// CycleRecord is the statistics record written once per completed
// generation cycle.
type CycleRecord struct {
	SessionID string `json:"session_id"`
	// Cycle is the 1-based generation cycle number within the session.
	Cycle        int    `json:"cycle"`
	Model        string `json:"model"`
	TotalTokens  int    `json:"total_tokens"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	// LatencySeconds is rounded to millisecond precision.
	LatencySeconds float64 `json:"latency_seconds"`
	// Commands holds extracted command names and classification codes in
	// emission order.
	Commands    []string  `json:"commands"`
	CompletedAt time.Time `json:"completed_at"`
	// Turns and Response feed the full-text log.
	Turns    []Turn `json:"turns"`
	Response string `json:"response"`
}

// StampFormat is the timestamp layout used in file names and stats rows.
const StampFormat = "20060102-150405"
