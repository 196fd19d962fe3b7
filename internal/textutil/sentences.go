package textutil

import (
	"strings"
	"unicode"
)

// SplitSentences breaks content after sentence-terminal punctuation followed by
// whitespace, and on newlines. Units are trimmed and empty ones dropped.
func SplitSentences(content string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	r := []rune(content)
	for i := 0; i < len(r); i++ {
		c := r[i]
		if c == '\n' {
			flush()
			continue
		}
		b.WriteRune(c)
		if (c == '.' || c == '!' || c == '?') && i+1 < len(r) && unicode.IsSpace(r[i+1]) {
			flush()
			// the whitespace run is the separator
			for i+1 < len(r) && unicode.IsSpace(r[i+1]) {
				i++
			}
		}
	}
	flush()

	return out
}
