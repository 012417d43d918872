package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/loom/internal/session"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle  = lipgloss.NewStyle().Bold(true)
	subtleStyle = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	noticeStyle = lipgloss.NewStyle().Foreground(warningColor)

	// Sync state styles
	stateStyles = map[session.State]lipgloss.Style{
		session.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		session.StateCached:       lipgloss.NewStyle().Foreground(warningColor),
		session.StateSynced:       lipgloss.NewStyle().Foreground(successColor),
		session.StateDisconnected: lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}

	resolvedThreadStyle = lipgloss.NewStyle().Foreground(mutedColor)
	openThreadStyle     = lipgloss.NewStyle().Foreground(primaryColor)
)

func stateStyle(st session.State) lipgloss.Style {
	if s, ok := stateStyles[st]; ok {
		return s
	}
	return subtleStyle
}
