// Package tui provides Bubble Tea views for the kiln CLI.
//
// Views are opt-in (--tui), read-only, and render the same payloads as
// the json, table and yaml output.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette. Foregrounds adapt to light and dark terminals.
var (
	primaryColor   = lipgloss.Color("#EA580C") // ember
	successColor   = lipgloss.Color("#16A34A")
	warningColor   = lipgloss.Color("#D97706")
	errorColor     = lipgloss.Color("#DC2626")
	mutedColor     = lipgloss.Color("#78716C")
	highlightColor = lipgloss.Color("#0EA5E9")
	textColor      = lipgloss.AdaptiveColor{Light: "#1C1917", Dark: "#FAFAF9"}
	codeColor      = lipgloss.AdaptiveColor{Light: "#44403C", Dark: "#E7E5E4"}
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(textColor)

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	// ProbationStyle marks a version serving under observation.
	ProbationStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Italic(true)

	// CodeStyle for program source.
	CodeStyle = lipgloss.NewStyle().
			Foreground(codeColor).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(mutedColor).
			PaddingLeft(1)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for stat display boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	// StatLabelStyle for stat labels.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	// StatValueStyle for stat values.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Align(lipgloss.Center)
)

// StateStyle returns the style for a lifecycle state or call status.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "durable", "ok", "true":
		return SuccessStyle
	case "probation":
		return ProbationStyle
	case "candidate":
		return WarningStyle
	case "degraded", "error", "false":
		return ErrorStyle
	default:
		return ValueStyle
	}
}

// RateStyle colors a success rate.
func RateStyle(rate float64) lipgloss.Style {
	switch {
	case rate >= 0.95:
		return SuccessStyle
	case rate >= 0.5:
		return WarningStyle
	default:
		return ErrorStyle
	}
}
