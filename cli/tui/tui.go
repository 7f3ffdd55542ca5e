package tui

import (
	"fmt"
	"strings"
)

// Run starts the view for viewType.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	if strings.HasPrefix(viewType, "inspect_") {
		return RunInspectTUI(viewType, data)
	}
	return RunStatsTUI(viewType, data)
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	for _, v := range SupportedTUIViews() {
		if v == viewType {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns the view types that have an interactive view.
func SupportedTUIViews() []string {
	return []string{
		"inspect_session",
		"stats_cycles",
		"stats_sessions",
		"stats_metrics",
	}
}
