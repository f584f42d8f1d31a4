package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#D4A017")
	colorMuted   = lipgloss.Color("241")
	colorError   = lipgloss.Color("#E06C75")
	colorSuccess = lipgloss.Color("#98C379")

	titleStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(1, 2)

	nameStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	messageStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	readyStyle   = lipgloss.NewStyle().Foreground(colorSuccess)
	hintStyle    = lipgloss.NewStyle().Foreground(colorMuted)
)
