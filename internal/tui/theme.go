package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	title     lipgloss.Style
	status    lipgloss.Style
	panel     lipgloss.Style
	entry     lipgloss.Style
	openEntry lipgloss.Style
	agent     lipgloss.Style
	errorText lipgloss.Style
	muted     lipgloss.Style
	active    lipgloss.Style
	completed lipgloss.Style
	idle      lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#60A5FA")
	muted := lipgloss.Color("#6B7280")
	return theme{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EAF3FF")).
			Background(lipgloss.Color("#1E3A8A")).
			Padding(0, 1),
		status: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0B1B36")).
			Background(lipgloss.Color("#FF9F43")).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted),
		entry: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(muted).
			PaddingLeft(1),
		openEntry: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder(), false, false, false, true).
			BorderForeground(accent).
			PaddingLeft(1),
		agent:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		errorText: lipgloss.NewStyle().Foreground(lipgloss.Color("#FB7185")),
		muted:     lipgloss.NewStyle().Foreground(muted),
		active:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#05FFA1")),
		completed: lipgloss.NewStyle().Foreground(lipgloss.Color("#A8C7FF")),
		idle:      lipgloss.NewStyle().Foreground(muted),
	}
}
