package tui

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/ema-widget/core/messages"
)

const minBubbleWidth = 12

// bubbleWidth leaves a gutter so user and assistant bubbles visibly sit on
// opposite sides.
func bubbleWidth(width int) int {
	return max(minBubbleWidth, width*3/4)
}

// mediaText turns sanitized markup into something a terminal can show. When
// the markup cannot be converted the sanitized source is shown as is.
func mediaText(markup string) string {
	markdown, err := htmltomarkdown.ConvertString(markup)
	if err != nil {
		return markup
	}
	return strings.TrimSpace(markdown)
}

func renderMessage(theme Theme, message messages.Message, width int) string {
	inner := bubbleWidth(width) - 4
	content := message.Content
	style := theme.Assistant
	if message.IsMedia() {
		content = mediaText(content)
		style = theme.Media
	}
	if message.Role == messages.RoleUser {
		style = theme.User
	}
	if content == "" {
		content = " "
	}
	bubble := style.Render(wordwrap.String(content, inner))
	if message.Role == messages.RoleUser {
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble)
	}
	return bubble
}

// renderTranscript renders every message in order. Placeholder assistant
// messages are skipped while empty so the status line stands in for them.
func renderTranscript(theme Theme, transcript []messages.Message, width int) string {
	var b strings.Builder
	for _, message := range transcript {
		if message.Role == messages.RoleAssistant && message.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderMessage(theme, message, width))
	}
	return b.String()
}
