// Package tui provides the Bubble Tea progress view for taskstream chat.
//
// TUI rules:
//   - TUI is opt-in only (--tui flag)
//   - TUI shows the same events the line printer shows
//   - The rendered outcome is still written to stdout after the view exits
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// StepStyle for the step label of a progress line.
	StepStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Width(18)

	// MutedStyle for timings and secondary text.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// BoxStyle for the final response.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// StatusStyle returns a style for an outcome status string.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "success":
		return SuccessStyle
	case "abandoned":
		return MutedStyle
	default:
		return ErrorStyle
	}
}
