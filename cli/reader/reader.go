// Package reader derives the read-only views rendered by the CLI from
// recorded cycles, metrics records and captured frames.
package reader

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/llmer/types"
)

// SummarizeCycles aggregates cycle records. Latencies are rounded to
// millisecond precision.
func SummarizeCycles(records []types.CycleRecord) *CycleStats {
	stats := &CycleStats{
		Codes:    map[string]int{},
		Commands: map[string]int{},
	}
	if len(records) == 0 {
		return stats
	}

	sessions := make(map[string]struct{})
	var latencySum float64
	var first, last time.Time
	for _, rec := range records {
		sessions[rec.SessionID] = struct{}{}
		stats.Cycles++
		stats.TotalTokens += int64(rec.TotalTokens)
		stats.InputTokens += int64(rec.InputTokens)
		stats.OutputTokens += int64(rec.OutputTokens)
		latencySum += rec.LatencySeconds
		stats.MaxLatency = math.Max(stats.MaxLatency, rec.LatencySeconds)

		for _, entry := range rec.Commands {
			if code, ok := parseCode(entry); ok {
				stats.Codes[types.OutgoingType(code).String()]++
				continue
			}
			stats.Commands[entry]++
		}

		if !rec.CompletedAt.IsZero() {
			if first.IsZero() || rec.CompletedAt.Before(first) {
				first = rec.CompletedAt
			}
			if rec.CompletedAt.After(last) {
				last = rec.CompletedAt
			}
		}
	}

	stats.Sessions = len(sessions)
	stats.MeanLatency = round3(latencySum / float64(stats.Cycles))
	stats.MaxLatency = round3(stats.MaxLatency)
	if !first.IsZero() {
		stats.First = first.UTC().Format(time.RFC3339)
		stats.Last = last.UTC().Format(time.RFC3339)
	}
	return stats
}

// SummarizeSessions returns one row per session ordered by session ID.
func SummarizeSessions(records []types.CycleRecord) []SessionSummary {
	type acc struct {
		row     SessionSummary
		latency float64
	}
	bySession := make(map[string]*acc)
	for _, rec := range records {
		a, ok := bySession[rec.SessionID]
		if !ok {
			a = &acc{row: SessionSummary{SessionID: rec.SessionID, Model: rec.Model}}
			bySession[rec.SessionID] = a
		}
		a.row.Cycles++
		a.row.TotalTokens += int64(rec.TotalTokens)
		a.latency += rec.LatencySeconds
	}

	out := make([]SessionSummary, 0, len(bySession))
	for _, a := range bySession {
		a.row.MeanLatency = round3(a.latency / float64(a.row.Cycles))
		out = append(out, a.row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// DescribeSession builds the inspect view of one session's cycles, in
// cycle order. Returns nil when records is empty.
func DescribeSession(sessionID string, records []types.CycleRecord) *SessionDetail {
	if len(records) == 0 {
		return nil
	}
	sorted := make([]types.CycleRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cycle < sorted[j].Cycle })

	detail := &SessionDetail{
		SessionID: sessionID,
		Model:     sorted[0].Model,
		Cycles:    make([]CycleView, 0, len(sorted)),
	}
	for _, rec := range sorted {
		detail.TotalTokens += int64(rec.TotalTokens)
		view := CycleView{
			Cycle:          rec.Cycle,
			TotalTokens:    rec.TotalTokens,
			InputTokens:    rec.InputTokens,
			OutputTokens:   rec.OutputTokens,
			LatencySeconds: rec.LatencySeconds,
			Commands:       strings.Join(rec.Commands, " "),
			Response:       preview([]byte(rec.Response), false),
		}
		if !rec.CompletedAt.IsZero() {
			view.CompletedAt = rec.CompletedAt.UTC().Format(time.RFC3339)
		}
		detail.Cycles = append(detail.Cycles, view)
	}
	return detail
}

// parseCode reports whether a command-log entry is a classification code.
func parseCode(entry string) (uint8, bool) {
	if len(entry) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(entry)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
