package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/kiln/cli/reader"
)

// StatsModel shows call statistics, one capability at a time.
type StatsModel struct {
	rows     []reader.CallStatsRow
	selected int
	quitting bool
}

// NewStatsModel creates a stats model for rows.
func NewStatsModel(rows []reader.CallStatsRow) StatsModel {
	return StatsModel{rows: rows}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, statsKeys.Next):
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case key.Matches(msg, statsKeys.Prev):
			if m.selected > 0 {
				m.selected--
			}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Call Statistics"))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(ValueStyle.Render("(no calls recorded)"))
	} else {
		for i, r := range m.rows {
			line := fmt.Sprintf("%s.%s  %d calls", r.Role, r.Method, r.Calls)
			if i == m.selected {
				b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.renderSelected())
	}

	help := HelpStyle.Render("↑/↓: select  q: quit")
	return b.String() + "\n" + help
}

func (m StatsModel) renderSelected() string {
	r := m.rows[m.selected]
	boxes := []string{
		renderStatBox("Calls", fmt.Sprintf("%d", r.Calls), highlightColor),
		renderStatBox("Success", fmt.Sprintf("%.0f%%", r.SuccessRate*100), RateStyle(r.SuccessRate).GetForeground()),
		renderStatBox("Cache Hits", fmt.Sprintf("%d", r.CacheHits), successColor),
		renderStatBox("Repairs", fmt.Sprintf("%d", r.Repairs), warningColor),
		renderStatBox("Errors", fmt.Sprintf("%d", r.Errors), errorColor),
	}
	out := lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
	detail := fmt.Sprintf("%s %s\n%s %s\n%s %s",
		LabelStyle.Render("Mean Latency:"), ValueStyle.Render(fmt.Sprintf("%.1fms", r.MeanMS)),
		LabelStyle.Render("Max Attempts:"), ValueStyle.Render(fmt.Sprintf("%d", r.MaxAttempts)),
		LabelStyle.Render("Top Error:"), ErrorStyle.Render(orDash(r.TopError)))
	return out + "\n" + detail
}

func renderStatBox(label, value string, color lipgloss.TerminalColor) string {
	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

var statsKeys = struct {
	Next key.Binding
	Prev key.Binding
}{
	Next: key.NewBinding(key.WithKeys("down", "j")),
	Prev: key.NewBinding(key.WithKeys("up", "k")),
}

// RunStatsTUI runs the stats view.
func RunStatsTUI(data any) error {
	rows, ok := data.([]reader.CallStatsRow)
	if !ok {
		return fmt.Errorf("invalid data type %T for %s", data, ViewStatsCalls)
	}
	p := tea.NewProgram(NewStatsModel(rows), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders the stats view without a terminal program.
func RenderStatsStatic(rows []reader.CallStatsRow) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewStatsModel(rows).View())
}
