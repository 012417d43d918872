// Package output provides styled terminal output helpers (success, error,
// warning, document formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/loom/internal/comments"
	"github.com/marcus/loom/internal/presence"
	"github.com/marcus/loom/internal/session"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateStyles  = map[session.State]lipgloss.Style{
		session.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		session.StateCached:       lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.StateSynced:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		session.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// StateBadge returns a sync state indicator with symbol
// e.g., "◌ connecting", "◍ cached", "● synced", "✗ disconnected"
func StateBadge(st session.State) string {
	symbols := map[session.State]string{
		session.StateConnecting:   "◌",
		session.StateCached:       "◍",
		session.StateSynced:       "●",
		session.StateDisconnected: "✗",
	}
	symbol, ok := symbols[st]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := stateStyles[st]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, st))
	}
	return fmt.Sprintf("%s %s", symbol, st)
}

// FormatParticipant renders one presence entry with its color swatch.
func FormatParticipant(e presence.Entry) string {
	swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(e.Color)).Render("■")
	return fmt.Sprintf("%s %s", swatch, e.Name)
}

// FormatThread renders a comment thread for plain CLI output.
func FormatThread(th *comments.Thread) string {
	var sb strings.Builder

	header := th.ID
	if th.Resolved() {
		header += " " + subtleStyle.Render("[resolved]")
	}
	sb.WriteString(titleStyle.Render(header))
	sb.WriteString("\n")

	for _, msg := range th.Messages() {
		sb.WriteString(fmt.Sprintf("  %s %s: %s\n",
			subtleStyle.Render(FormatTimeAgo(msg.CreatedAt)),
			msg.AuthorName,
			msg.Content))
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPARTICIPANTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
