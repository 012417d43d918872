package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/loom/internal/comments"
	"github.com/marcus/loom/internal/doc"
	"github.com/marcus/loom/internal/session"
)

func (m Model) View() string {
	width := m.Width
	if width <= 0 {
		width = 80
	}

	var sb strings.Builder
	sb.WriteString(m.headerView(width))
	sb.WriteString("\n")
	sb.WriteString(m.contentView(width))
	sb.WriteString("\n")
	sb.WriteString(m.threadsView(width))
	sb.WriteString("\n")

	for _, n := range m.Notices {
		sb.WriteString(noticeStyle.Render("! " + n))
		sb.WriteString("\n")
	}
	if m.Err != nil {
		sb.WriteString(noticeStyle.Render("error: " + m.Err.Error()))
		sb.WriteString("\n")
	}
	if m.CommentsErr != nil {
		sb.WriteString(noticeStyle.Render("comments unavailable: " + m.CommentsErr.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString(helpStyle.Render("r refresh  q quit"))
	return sb.String()
}

func (m Model) headerView(width int) string {
	state := stateStyle(m.State).Render(m.State.String())
	if m.State == session.StateConnecting {
		state = m.Spinner.View() + state
	}

	left := titleStyle.Render("loom ") + subtleStyle.Render(m.Session.Identity().String())
	right := state

	var people []string
	for _, p := range m.Participants {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color)).Render("■")
		people = append(people, swatch+" "+p.Name)
	}
	if len(people) > 0 {
		right += subtleStyle.Render("  ·  ") + strings.Join(people, "  ")
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) contentView(width int) string {
	var lines []string
	for _, b := range m.Blocks {
		lines = append(lines, blockLine(b))
	}
	if len(lines) == 0 {
		lines = []string{subtleStyle.Render("(empty document)")}
	}

	body := strings.Join(lines, "\n")
	return panelTitleStyle.Render("Document") + "\n" +
		panelStyle.Width(width-2).Render(body)
}

func blockLine(b doc.Block) string {
	var text strings.Builder
	for _, r := range b.Runs {
		if len(r.Comments) > 0 {
			text.WriteString(openThreadStyle.Render(r.Text))
			continue
		}
		text.WriteString(r.Text)
	}
	switch b.Kind {
	case doc.KindHeading:
		return titleStyle.Render(text.String())
	case doc.KindFile:
		return subtleStyle.Render(fmt.Sprintf("📎 %s", b.Attrs["name"]))
	case doc.KindPlaceholder:
		return subtleStyle.Render(fmt.Sprintf("⋯ uploading %s", b.Attrs["name"]))
	default:
		return text.String()
	}
}

func (m Model) threadsView(width int) string {
	if len(m.Overlay.Items) == 0 {
		return ""
	}

	var lines []string
	for _, item := range m.Overlay.Items {
		lines = append(lines, itemLine(item))
	}
	return panelTitleStyle.Render("Comments") + "\n" +
		panelStyle.Width(width-2).Render(strings.Join(lines, "\n"))
}

func itemLine(item comments.Item) string {
	if item.PendingID != "" {
		return noticeStyle.Render(fmt.Sprintf("✎ draft at block %d", item.Anchor.BlockIndex))
	}
	th := item.Thread
	style := openThreadStyle
	suffix := ""
	if th.Resolved() {
		style = resolvedThreadStyle
		suffix = " (resolved)"
	}
	root := th.Root
	line := fmt.Sprintf("block %d · %s: %s", item.Anchor.BlockIndex, root.AuthorName, root.Content)
	if n := len(th.Replies); n > 0 {
		line += subtleStyle.Render(fmt.Sprintf("  +%d replies", n))
	}
	return style.Render(line + suffix)
}
