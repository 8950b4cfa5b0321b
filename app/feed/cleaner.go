package feed

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	tagRe            = regexp.MustCompile(`<[^>]+>`)
	commentCounterRe = regexp.MustCompile(`(?i)\b\d+\s+comments?\b`)
	commentWordRe    = regexp.MustCompile(`(?i)\bcomments?\b`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// CleanText strips feed text down to plain prose: HTML entities unescaped,
// tags and comment counters removed, whitespace collapsed, Unicode
// NFC-normalized.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = html.UnescapeString(text)
	text = tagRe.ReplaceAllString(text, "")
	text = commentCounterRe.ReplaceAllString(text, "")
	text = commentWordRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return norm.NFC.String(strings.TrimSpace(text))
}
