// Package components holds small lipgloss helpers shared by the interactive views.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var statusStyles = map[string]lipgloss.Style{
	"pending":  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"success":  lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	"error":    lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	"warning":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	"info":     lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
	"running":  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"complete": lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
}

var statusIcons = map[string]string{
	"pending":  "…",
	"success":  "✓",
	"error":    "✗",
	"warning":  "!",
	"info":     "i",
	"running":  "▸",
	"complete": "■",
}

// sessionStatus maps session state names to status styles.
var sessionStatus = map[string]string{
	"authenticated":   "success",
	"authenticating":  "pending",
	"unauthenticated": "warning",
}

// RenderStatus formats a status message with an icon and color.
func RenderStatus(status, message string) string {
	style, exists := statusStyles[status]
	if !exists {
		style = lipgloss.NewStyle()
	}
	icon, exists := statusIcons[status]
	if !exists {
		icon = "•"
	}
	return style.Render(fmt.Sprintf("%s %s", icon, message))
}

// RenderSession formats the status line shown above the shell prompt.
func RenderSession(profile, state, user string, apiVersion float64) string {
	status, ok := sessionStatus[state]
	if !ok {
		status = "info"
	}
	parts := []string{profile, state}
	if user != "" {
		parts = append(parts, "as "+user)
	}
	if apiVersion > 0 {
		parts = append(parts, fmt.Sprintf("api %g", apiVersion))
	}
	return RenderStatus(status, strings.Join(parts, " · "))
}

// RenderProgressBar creates a textual progress bar of width characters for
// a percentage in [0, 100].
func RenderProgressBar(progress int, width int, fillChar, emptyChar string) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	filledWidth := (progress * width) / 100
	return fmt.Sprintf("[%s%s]", strings.Repeat(fillChar, filledWidth), strings.Repeat(emptyChar, width-filledWidth))
}
