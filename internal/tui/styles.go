package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/notstpa/smartremux/internal/model"
)

// Colors
var (
	colorPrimary   = lipgloss.Color("39")  // Blue
	colorSecondary = lipgloss.Color("241") // Gray
	colorSuccess   = lipgloss.Color("42")  // Green
	colorWarning   = lipgloss.Color("214") // Orange
	colorError     = lipgloss.Color("196") // Red
	colorMuted     = lipgloss.Color("240") // Dark gray
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			MarginBottom(1)

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	speedStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	statusDone = lipgloss.NewStyle().
			Foreground(colorSuccess).
			SetString("✓")

	statusSkipped = lipgloss.NewStyle().
			Foreground(colorWarning).
			SetString("→")

	statusFailed = lipgloss.NewStyle().
			Foreground(colorError).
			SetString("✗")

	statusCancelled = lipgloss.NewStyle().
			Foreground(colorMuted).
			SetString("○")

	// Progress bar cells
	barFull = lipgloss.NewStyle().
		Foreground(colorSuccess).
		SetString("█")

	barEmpty = lipgloss.NewStyle().
			Foreground(colorMuted).
			SetString("░")

	counterStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			MarginTop(1)

	cancellingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWarning)

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)
)

// StatusIcon returns the icon for a terminal job status
func StatusIcon(status model.JobStatus) string {
	switch status {
	case model.StatusDone:
		return statusDone.String()
	case model.StatusSkipped:
		return statusSkipped.String()
	case model.StatusCancelled:
		return statusCancelled.String()
	default:
		return statusFailed.String()
	}
}

// RenderBar creates a progress bar for a 0-100 percentage
func RenderBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent * float64(width) / 100)

	var bar strings.Builder
	for i := 0; i < filled; i++ {
		bar.WriteString(barFull.String())
	}
	for i := filled; i < width; i++ {
		bar.WriteString(barEmpty.String())
	}
	return bar.String()
}
