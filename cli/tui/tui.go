package tui

import (
	"fmt"
	"slices"
)

// View types accepted by Run.
const (
	ViewEpisodes = "episodes"
	ViewStats    = "stats"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	switch viewType {
	case ViewEpisodes:
		return RunEpisodesTUI(data)
	case ViewStats:
		return RunStatsTUI(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only the read-only dataset views do.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewEpisodes, ViewStats}
}
