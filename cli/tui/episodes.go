package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/marksman/cli/reader"
)

// EpisodesModel is a scrollable table of finalized episodes.
type EpisodesModel struct {
	items    []reader.EpisodeItem
	table    table.Model
	quitting bool
}

var episodeColumns = []table.Column{
	{Title: "Run", Width: 24},
	{Title: "Ep", Width: 5},
	{Title: "Steps", Width: 6},
	{Title: "FPS", Width: 5},
	{Title: "Frames", Width: 16},
	{Title: "Finalized", Width: 24},
}

// NewEpisodesModel creates a new episodes model.
func NewEpisodesModel(items []reader.EpisodeItem) EpisodesModel {
	rows := make([]table.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, table.Row{
			it.RunID,
			strconv.FormatInt(it.Episode, 10),
			strconv.FormatInt(it.Steps, 10),
			strconv.FormatFloat(it.FPS, 'g', -1, 64),
			it.FramesDir,
			it.FinalizedAt,
		})
	}

	t := table.New(
		table.WithColumns(episodeColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(max(len(rows), 1), 20)),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(primaryColor)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(highlightColor)
	t.SetStyles(s)

	return EpisodesModel{items: items, table: t}
}

// Init implements tea.Model.
func (m EpisodesModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m EpisodesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m EpisodesModel) View() string {
	if m.quitting {
		return ""
	}
	title := TitleStyle.Render(fmt.Sprintf("Episodes (%d)", len(m.items)))
	if len(m.items) == 0 {
		return title + "\n" + LabelStyle.Render("(no results)") + "\n" + HelpStyle.Render("Press q to quit")
	}

	var total int64
	for _, it := range m.items {
		total += it.Steps
	}
	footer := fmt.Sprintf("%s %s", LabelStyle.Render("Total steps:"), ValueStyle.Render(strconv.FormatInt(total, 10)))
	help := HelpStyle.Render("↑/↓ scroll • q quit")
	return title + "\n" + BoxStyle.Render(m.table.View()) + "\n" + footer + "\n" + help
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunEpisodesTUI runs the episodes TUI.
func RunEpisodesTUI(data any) error {
	items, ok := data.([]reader.EpisodeItem)
	if !ok {
		return fmt.Errorf("invalid data type for episodes view: %T", data)
	}
	p := tea.NewProgram(NewEpisodesModel(items), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
