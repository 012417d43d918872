package output

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/marcus/loom/internal/doc"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// RenderMarkdown renders markdown using Glamour with terminal-aware wrapping.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders markdown using Glamour with explicit wrapping.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(rendered, "\n"), nil
}

// DocumentMarkdown flattens the block content model into markdown source.
func DocumentMarkdown(blocks []doc.Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch b.Kind {
		case doc.KindHeading:
			level := 1
			if lv, err := strconv.Atoi(b.Attrs["level"]); err == nil && lv >= 1 && lv <= 6 {
				level = lv
			}
			sb.WriteString(strings.Repeat("#", level))
			sb.WriteString(" ")
			sb.WriteString(runsMarkdown(b.Runs))
		case doc.KindFile:
			name := b.Attrs["name"]
			if name == "" {
				name = "attachment"
			}
			sb.WriteString(fmt.Sprintf("[%s](%s)", name, b.Attrs["url"]))
		case doc.KindPlaceholder:
			sb.WriteString(fmt.Sprintf("*uploading %s…*", b.Attrs["name"]))
		default:
			sb.WriteString(runsMarkdown(b.Runs))
		}
	}
	return sb.String()
}

func runsMarkdown(runs []doc.Run) string {
	var sb strings.Builder
	for _, r := range runs {
		if r.Link != "" {
			sb.WriteString(fmt.Sprintf("[%s](loom://%s)", r.Text, r.Link))
			continue
		}
		sb.WriteString(r.Text)
	}
	return sb.String()
}
