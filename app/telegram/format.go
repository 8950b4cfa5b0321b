package telegram

import (
	"fmt"
	"strings"
)

const (
	maxSummaryLen = 300
	ellipsis      = "..."
	defaultTag    = "IT"
)

// EscapeText escapes the characters Telegram's HTML parse mode treats as
// markup.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// FormatPost renders a candidate item as a Telegram HTML message:
//
//	<b>[TAG] Title</b>
//
//	Summary
//
//	<a href="...">source</a>
//
// The summary is dropped when it is a case-insensitive substring of the
// title, and truncated to 300 runes total (ellipsis included) otherwise.
func FormatPost(tag, title, summary, link string) string {
	if title == "" {
		title = link
	}
	if tag == "" {
		tag = defaultTag
	}

	if summary != "" && strings.Contains(strings.ToLower(title), strings.ToLower(summary)) {
		summary = ""
	}
	summary = truncate(summary, maxSummaryLen)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>[%s] %s</b>", EscapeText(tag), EscapeText(title))
	if summary != "" {
		b.WriteString("\n\n")
		b.WriteString(EscapeText(summary))
	}
	fmt.Fprintf(&b, "\n\n<a href=\"%s\">source</a>", EscapeText(link))

	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}
