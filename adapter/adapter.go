// Package adapter publishes cycle-completed notifications to downstream
// systems.
//
// A session publishes one event after each generation cycle has been
// recorded. Publication failures never affect the client connection.
package adapter

import (
	"context"
	"time"

	"github.com/justapithecus/llmer/types"
)

// EventTypeCycleCompleted is the event_type of every published event.
const EventTypeCycleCompleted = "cycle_completed"

// CycleCompletedEvent is the payload published when a generation cycle
// finishes.
type CycleCompletedEvent struct {
	ContractVersion string   `json:"contract_version" msgpack:"contract_version"`
	EventType       string   `json:"event_type" msgpack:"event_type"`
	SessionID       string   `json:"session_id" msgpack:"session_id"`
	Cycle           int      `json:"cycle" msgpack:"cycle"`
	Model           string   `json:"model" msgpack:"model"`
	TotalTokens     int      `json:"total_tokens" msgpack:"total_tokens"`
	InputTokens     int      `json:"input_tokens" msgpack:"input_tokens"`
	OutputTokens    int      `json:"output_tokens" msgpack:"output_tokens"`
	LatencySeconds  float64  `json:"latency_seconds" msgpack:"latency_seconds"`
	Commands        []string `json:"commands" msgpack:"commands"`
	Timestamp       string   `json:"timestamp" msgpack:"timestamp"` // RFC 3339
}

// NewCycleCompletedEvent builds the event for a recorded cycle.
func NewCycleCompletedEvent(rec *types.CycleRecord) *CycleCompletedEvent {
	commands := rec.Commands
	if commands == nil {
		commands = []string{}
	}
	return &CycleCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeCycleCompleted,
		SessionID:       rec.SessionID,
		Cycle:           rec.Cycle,
		Model:           rec.Model,
		TotalTokens:     rec.TotalTokens,
		InputTokens:     rec.InputTokens,
		OutputTokens:    rec.OutputTokens,
		LatencySeconds:  rec.LatencySeconds,
		Commands:        commands,
		Timestamp:       rec.CompletedAt.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes cycle events to a downstream system.
// Implementations must be safe for concurrent use by many sessions.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *CycleCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Nop discards every event. Used when no adapter is configured.
type Nop struct{}

// Publish implements Adapter.
func (Nop) Publish(context.Context, *CycleCompletedEvent) error { return nil }

// Close implements Adapter.
func (Nop) Close() error { return nil }

var _ Adapter = Nop{}
