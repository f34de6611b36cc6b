package telegram

import (
	"html"
	"strings"

	"github.com/deusflow/technews/internal/news"
)

const (
	DefaultEmoji   = "🧪"
	ReadMoreLabel  = "Читать полностью"
	BreakingMarker = "⚡ <b>СРОЧНО</b>"
)

// FormatArticle renders a scored item as an HTML channel post:
// emoji and #CATEGORY, bold title, truncated summary and a read-more link.
func FormatArticle(item news.ScoredItem, emoji string, summaryLen int, urgent bool) string {
	if emoji == "" {
		emoji = DefaultEmoji
	}

	var b strings.Builder
	if urgent {
		b.WriteString(BreakingMarker)
		b.WriteString("\n")
	}
	b.WriteString(emoji)
	b.WriteString(" #")
	b.WriteString(strings.ToUpper(strings.ReplaceAll(item.Category, " ", "_")))
	b.WriteString("\n\n<b>")
	b.WriteString(html.EscapeString(item.Title))
	b.WriteString("</b>\n\n")

	if summary := strings.TrimSpace(item.Summary); summary != "" {
		if summaryLen > 0 {
			summary = news.TruncateSummary(summary, summaryLen)
		}
		b.WriteString(html.EscapeString(summary))
		b.WriteString("\n\n")
	}

	b.WriteString(`<a href="`)
	b.WriteString(html.EscapeString(item.Link))
	b.WriteString(`">`)
	b.WriteString(ReadMoreLabel)
	b.WriteString("</a>")
	return b.String()
}
