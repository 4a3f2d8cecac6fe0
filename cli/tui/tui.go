package tui

import (
	"fmt"
	"slices"
)

// View names.
const (
	ViewInspectArtifact = "inspect_artifact"
	ViewStatsCalls      = "stats_calls"
)

// Run starts the view for viewType.
func Run(viewType string, data any) error {
	switch viewType {
	case ViewInspectArtifact:
		return RunInspectTUI(data)
	case ViewStatsCalls:
		return RunStatsTUI(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// IsTUISupported reports whether viewType has a TUI.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that have a TUI.
func SupportedTUIViews() []string {
	return []string{ViewInspectArtifact, ViewStatsCalls}
}
