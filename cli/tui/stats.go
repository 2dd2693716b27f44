package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/marksman/cli/reader"
)

// StatsModel is a Bubble Tea model for the metrics view.
type StatsModel struct {
	snap     *reader.MetricsSnapshot
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(snap *reader.MetricsSnapshot) StatsModel {
	return StatsModel{snap: snap}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	if m.snap == nil {
		return "No metrics to show\n" + HelpStyle.Render("Press q to quit")
	}
	s := m.snap

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + s.RunID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Mode:"), ValueStyle.Render(s.Mode))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Action source:"), ValueStyle.Render(s.ActionSource))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Recorded at:"), ValueStyle.Render(s.Ts))
	b.WriteString("\n")

	b.WriteString(section("Control loop",
		statBox("Ticks", s.Ticks, highlightColor),
		statBox("Remote", s.RemoteActions, successColor),
		statBox("Fallback", s.FallbackActions, warningColor),
		statBox("Transport errs", s.TransportErrors, CounterStyle(s.TransportErrors).GetForeground()),
	))
	b.WriteString(section("Episodes",
		statBox("Finalized", s.EpisodesFinalized, successColor),
		statBox("Discarded", s.EpisodesDiscarded, warningColor),
		statBox("Steps", s.StepsRecorded, highlightColor),
		statBox("Recorder errs", s.RecorderFailures, CounterStyle(s.RecorderFailures).GetForeground()),
	))
	b.WriteString(section("Capture",
		statBox("Requested", s.CaptureRequested, highlightColor),
		statBox("Completed", s.CaptureCompleted, successColor),
		statBox("Skipped", s.CaptureSkipped, warningColor),
		statBox("Failed", s.CaptureFailed, CounterStyle(s.CaptureFailed).GetForeground()),
	))

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func section(title string, boxes ...string) string {
	heading := lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render(title)
	return heading + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, boxes...) + "\n"
}

func statBox(label string, value int64, color lipgloss.TerminalColor) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(data any) error {
	snap, ok := data.(*reader.MetricsSnapshot)
	if !ok {
		return fmt.Errorf("invalid data type for stats view: %T", data)
	}
	p := tea.NewProgram(NewStatsModel(snap), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders the stats view without starting a program.
func RenderStatsStatic(snap *reader.MetricsSnapshot) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewStatsModel(snap).View())
}
