package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
	colorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	sceneStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true)

	statusStyles = map[string]lipgloss.Style{
		"connecting": lipgloss.NewStyle().Foreground(colorYellow).Bold(true),
		"connected":  lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		"error":      lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		"ended":      lipgloss.NewStyle().Foreground(colorGray).Bold(true),
	}

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	userLabelStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	modelLabelStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Bold(true)

	previewStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true)

	usedWordStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	unusedWordStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)
)

// statusStyle returns the badge style for a status name.
func statusStyle(name string) lipgloss.Style {
	if s, ok := statusStyles[name]; ok {
		return s
	}
	return helpStyle
}
