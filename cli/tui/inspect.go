package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/llmer/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views. Cycles are paged
// one at a time with the arrow keys.
type InspectModel struct {
	viewType string
	data     any
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Next):
			if m.cursor < m.cycleCount()-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Prev):
			if m.cursor > 0 {
				m.cursor--
			}
		}
	}

	return m, nil
}

func (m InspectModel) cycleCount() int {
	if d, ok := m.data.(*reader.SessionDetail); ok {
		return len(d.Cycles)
	}
	return 0
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_session":
		content = m.renderInspectSession()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("←/→ change cycle • q quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectSession() string {
	data, ok := m.data.(*reader.SessionDetail)
	if !ok {
		return "Invalid data type for inspect_session"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Details"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Session ID", data.SessionID},
		{"Model", data.Model},
		{"Cycles", fmt.Sprintf("%d", len(data.Cycles))},
		{"Tokens", fmt.Sprintf("%d", data.TotalTokens)},
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	if len(data.Cycles) == 0 {
		return BoxStyle.Render(b.String())
	}

	c := data.Cycles[m.cursor]
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(highlightColor).
		Render(fmt.Sprintf("Cycle %d (%d/%d)", c.Cycle, m.cursor+1, len(data.Cycles))))
	b.WriteString("\n")

	cycleRows := [][]string{
		{"Completed", c.CompletedAt},
		{"Tokens", fmt.Sprintf("%d (in %d, out %d)", c.TotalTokens, c.InputTokens, c.OutputTokens)},
		{"Latency", formatSeconds(c.LatencySeconds)},
		{"Commands", c.Commands},
		{"Response", c.Response},
	}
	for _, row := range cycleRows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Next key.Binding
	Prev key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Next: key.NewBinding(
		key.WithKeys("right", "l", "j", "down"),
		key.WithHelp("→", "next cycle"),
	),
	Prev: key.NewBinding(
		key.WithKeys("left", "h", "k", "up"),
		key.WithHelp("←", "previous cycle"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without the interactive program.
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
