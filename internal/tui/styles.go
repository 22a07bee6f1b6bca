package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/missionctl/missionctl/internal/stream"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#5A3FC0", Dark: "#A48BFA"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#6B6B6B", Dark: "#8A8A8A"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#1F7A3A", Dark: "#5FD68A"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#E6B450"}
	colorBad    = lipgloss.AdaptiveColor{Light: "#B42318", Dark: "#F97066"}

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	pendingStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle    = lipgloss.NewStyle().Foreground(colorBad)
)

var paneStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorMuted).
	Padding(0, 1)

var focusedPaneStyle = paneStyle.BorderForeground(colorAccent)

func streamStateStyle(state string) lipgloss.Style {
	switch stream.State(state) {
	case stream.Streaming:
		return lipgloss.NewStyle().Foreground(colorOK)
	case stream.Connecting:
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Foreground(colorBad)
	}
}
