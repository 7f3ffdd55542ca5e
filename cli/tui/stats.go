package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/llmer/cli/reader"
)

// histogramWidth is the length of the longest histogram bar.
const histogramWidth = 30

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_cycles":
		content = m.renderStatsCycles()
	case "stats_sessions":
		content = m.renderStatsSessions()
	case "stats_metrics":
		content = m.renderStatsMetrics()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsCycles() string {
	data, ok := m.data.(*reader.CycleStats)
	if !ok {
		return "Invalid data type for stats_cycles"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Cycle Statistics"))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Cycles", fmt.Sprintf("%d", data.Cycles), highlightColor),
		m.renderStatBox("Sessions", fmt.Sprintf("%d", data.Sessions), primaryColor),
		m.renderStatBox("Tokens", fmt.Sprintf("%d", data.TotalTokens), successColor),
		m.renderStatBox("Mean Latency", formatSeconds(data.MeanLatency), warningColor),
		m.renderStatBox("Max Latency", formatSeconds(data.MaxLatency), errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Input/Output:"),
		ValueStyle.Render(fmt.Sprintf("%d / %d", data.InputTokens, data.OutputTokens))))
	if data.First != "" {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Window:"),
			ValueStyle.Render(data.First+" .. "+data.Last)))
	}

	if len(data.Codes) > 0 {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render("Sentences by code"))
		b.WriteString("\n")
		b.WriteString(renderHistogram(data.Codes))
	}

	return b.String()
}

func (m StatsModel) renderStatsSessions() string {
	data, ok := m.data.([]reader.SessionSummary)
	if !ok {
		return "Invalid data type for stats_sessions"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Statistics"))
	b.WriteString("\n\n")

	if len(data) == 0 {
		b.WriteString(ValueStyle.Render("(no sessions)"))
		return b.String()
	}

	header := fmt.Sprintf("%-38s %8s %10s %10s", "SESSION", "CYCLES", "TOKENS", "LATENCY")
	b.WriteString(LabelStyle.Width(len(header)).Render(header))
	b.WriteString("\n")
	for _, s := range data {
		b.WriteString(ValueStyle.Render(fmt.Sprintf("%-38s %8d %10d %10s",
			s.SessionID, s.Cycles, s.TotalTokens, formatSeconds(s.MeanLatency))))
		b.WriteString("\n")
	}
	return b.String()
}

func (m StatsModel) renderStatsMetrics() string {
	data, ok := m.data.(*reader.MetricsSnapshot)
	if !ok {
		return "Invalid data type for stats_metrics"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Relay Metrics"))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Sessions", fmt.Sprintf("%d", data.SessionsStarted), highlightColor),
		m.renderStatBox("Failed", fmt.Sprintf("%d", data.SessionsFailed), errorColor),
		m.renderStatBox("Cycles", fmt.Sprintf("%d", data.CyclesCompleted), successColor),
		m.renderStatBox("Backend Errors", fmt.Sprintf("%d", data.BackendErrors), warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Recorded:", data.Ts},
		{"Model:", data.Model},
		{"Storage:", data.StorageBackend},
		{"Frames in/out:", fmt.Sprintf("%d / %d", data.FramesReceived, data.FramesSent)},
		{"Protocol errs:", fmt.Sprintf("%d", data.ProtocolErrors)},
		{"Write errs:", fmt.Sprintf("%d", data.WriteErrors)},
		{"Stats writes:", fmt.Sprintf("%d ok, %d failed", data.StatsWriteSuccess, data.StatsWriteFailure)},
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]), ValueStyle.Render(row[1])))
	}

	if len(data.SentencesByType) > 0 {
		counts := make(map[string]int, len(data.SentencesByType))
		for k, v := range data.SentencesByType {
			counts[k] = int(v)
		}
		b.WriteString("\n")
		b.WriteString(renderHistogram(counts))
	}
	return b.String()
}

func (m StatsModel) renderStatBox(label, value string, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// renderHistogram draws one bar per key, largest count first.
func renderHistogram(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	maxCount := 0
	for name, n := range counts {
		names = append(names, name)
		maxCount = max(maxCount, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	var b strings.Builder
	for _, name := range names {
		n := counts[name]
		width := 0
		if maxCount > 0 {
			width = max(1, n*histogramWidth/maxCount)
		}
		if n == 0 {
			width = 0
		}
		b.WriteString(fmt.Sprintf("%s %s %d\n",
			CodeStyle(name).Width(18).Render(name),
			BarStyle.Render(strings.Repeat("█", width)),
			n))
	}
	return b.String()
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without the interactive program.
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
