package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#8BC34A")
	muted   = lipgloss.Color("#6B7280")
	danger  = lipgloss.Color("#E53935")
	surface = lipgloss.Color("#1E2A3D")
)

// styles groups the lipgloss styles of the UI.
type styles struct {
	Title       lipgloss.Style
	Ruleset     lipgloss.Style
	Label       lipgloss.Style
	Pane        lipgloss.Style
	Status      lipgloss.Style
	StatusError lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Title:       lipgloss.NewStyle().Bold(true).Foreground(accent),
		Ruleset:     lipgloss.NewStyle().Bold(true),
		Label:       lipgloss.NewStyle().Foreground(muted),
		Pane:        lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted),
		Status:      lipgloss.NewStyle().Foreground(lipgloss.Color("#F2F2F2")).Background(surface).Padding(0, 1),
		StatusError: lipgloss.NewStyle().Foreground(lipgloss.Color("#F2F2F2")).Background(danger).Padding(0, 1),
	}
}
