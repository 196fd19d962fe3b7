// Package textutil holds the text-level helpers of the tagging engine:
// fuzzy re-anchoring of chunks, sentence splitting and keyword candidate generation.
package textutil

import "unicode"

// Span is a half-open rune range [Start, End) in a source text.
type Span struct {
	Start int
	End   int
}

// Locate finds chunk in source starting at rune offset from, tolerating
// whitespace drift and sentence punctuation present on only one side.
// A real mismatch restarts the scan one rune past the current match start.
// The returned span is in runes and covers the matched source text.
func Locate(source, chunk string, from int) (Span, bool) {
	src := []rune(source)
	chk := []rune(chunk)
	if from < 0 {
		from = 0
	}

	t, s := from, 0
	start := -1

	for t < len(src) && s < len(chk) {
		tc, sc := src[t], chk[s]

		if tc == sc {
			if start == -1 {
				start = t
			}
			t++
			s++
			continue
		}

		tSpace, sSpace := unicode.IsSpace(tc), unicode.IsSpace(sc)
		switch {
		case tSpace && sSpace:
			for t < len(src) && unicode.IsSpace(src[t]) {
				t++
			}
			for s < len(chk) && unicode.IsSpace(chk[s]) {
				s++
			}
			continue
		case tSpace:
			t++
			continue
		case sSpace:
			s++
			continue
		}

		// separators injected on either side
		if isSentencePunct(sc) && !isSentencePunct(tc) {
			s++
			continue
		}
		if isSentencePunct(tc) && !isSentencePunct(sc) {
			t++
			continue
		}

		if start != -1 {
			t = start + 1
			s = 0
			start = -1
		} else {
			t++
		}
	}

	if s < len(chk) || start == -1 {
		return Span{}, false
	}
	return Span{Start: start, End: t}, true
}

// Slice returns the runes of source covered by sp.
func Slice(source string, sp Span) string {
	r := []rune(source)
	if sp.Start < 0 || sp.End > len(r) || sp.Start > sp.End {
		return ""
	}
	return string(r[sp.Start:sp.End])
}

func isSentencePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';':
		return true
	}
	return false
}
