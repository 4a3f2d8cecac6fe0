package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/kiln/cli/reader"
)

const timeLayout = "2006-01-02 15:04:05"

// helpHeight is the lines below the viewport.
const helpHeight = 2

// InspectModel shows one artifact: its details and versions, or its code.
type InspectModel struct {
	data     *reader.InspectArtifactResponse
	showCode bool
	viewport viewport.Model
	ready    bool
	quitting bool
}

// NewInspectModel creates an inspect model for data.
func NewInspectModel(data *reader.InspectArtifactResponse) InspectModel {
	return InspectModel{data: data}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(msg.Height-helpHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.viewport.SetContent(m.content())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Toggle):
			m.showCode = !m.showCode
			if m.ready {
				m.viewport.SetContent(m.content())
				m.viewport.GotoTop()
			}
			return m, nil
		}
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	help := HelpStyle.Render("tab: details/code  ↑/↓: scroll  q: quit")
	if !m.ready {
		return m.content() + "\n" + help
	}
	return m.viewport.View() + "\n" + help
}

func (m InspectModel) content() string {
	if m.data == nil {
		return "No artifact"
	}
	if m.showCode {
		return m.renderCode()
	}
	return m.renderDetails()
}

func (m InspectModel) renderDetails() string {
	d := m.data
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Artifact %s.%s", d.Role, d.Method)))
	b.WriteString("\n")

	checksum := d.Checksum
	if !d.ChecksumValid {
		checksum += ErrorStyle.Render(" (mismatch)")
	}
	rows := [][2]string{
		{"Checksum", checksum},
		{"Incumbent", orDash(d.Incumbent)},
		{"Runtime", d.RuntimeVersion},
		{"Prompt", orDash(d.PromptVersion)},
		{"Model", orDash(d.Model)},
		{"Cacheable", d.Cacheable + " " + MutedStyle(d.CacheableReason)},
		{"Input Sensitive", fmt.Sprintf("%t", d.InputSensitive)},
		{"Calls", fmt.Sprintf("%d ok / %d failed", d.Successes, d.Failures)},
		{"Failure Classes", fmt.Sprintf("extrinsic %d, adaptive %d, intrinsic %d",
			d.FailuresByClass["extrinsic"], d.FailuresByClass["adaptive"], d.FailuresByClass["intrinsic"])},
		{"Recent Failures", fmt.Sprintf("%.0f%%", d.RecentFailureRate*100)},
		{"Repairs", fmt.Sprintf("%d since regen", d.RepairCountSinceRegen)},
		{"Updated", d.UpdatedAt.Format(timeLayout)},
	}
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("State:"), StateStyle(d.State).Render(orDash(d.State)))
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
	if len(d.Dependencies) > 0 {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Dependencies:"), ValueStyle.Render(strings.Join(d.Dependencies, ", ")))
	}

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("Versions"))
	b.WriteString("\n")
	for _, v := range d.Versions {
		marker := "  "
		if v.Current {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s %s %s calls=%d ok=%d sessions=%d contract=%.2f\n",
			marker,
			ValueStyle.Render(v.Checksum),
			StateStyle(v.State).Width(10).Render(orDash(v.State)),
			MutedStyle(v.Trigger),
			v.Calls, v.Successes, v.Sessions, v.ContractPassRate)
	}

	if len(d.Generations) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Generations"))
		b.WriteString("\n")
		for _, g := range d.Generations {
			line := fmt.Sprintf("  %s %-7s %s", g.At.Format(timeLayout), g.Trigger, g.Checksum)
			if g.FailureType != "" {
				line += " " + WarningStyle.Render(fmt.Sprintf("fixed %s (%s)", g.FailureType, g.FailureClass))
			}
			b.WriteString(line + "\n")
		}
	}
	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderCode() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s.%s @ %s", m.data.Role, m.data.Method, m.data.Checksum)))
	b.WriteString("\n")
	b.WriteString(CodeStyle.Render(m.data.Code))
	return b.String()
}

// MutedStyle renders s in the muted color.
func MutedStyle(s string) string {
	if s == "" {
		return ""
	}
	return lipgloss.NewStyle().Foreground(mutedColor).Render(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// keyMap defines key bindings.
type keyMap struct {
	Quit   key.Binding
	Toggle key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("tab", "c"),
		key.WithHelp("tab", "details/code"),
	),
}

// RunInspectTUI runs the inspect view.
func RunInspectTUI(data any) error {
	resp, ok := data.(*reader.InspectArtifactResponse)
	if !ok {
		return fmt.Errorf("invalid data type %T for %s", data, ViewInspectArtifact)
	}
	p := tea.NewProgram(NewInspectModel(resp), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders the details view without a terminal program.
func RenderInspectStatic(data *reader.InspectArtifactResponse) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewInspectModel(data).View())
}
