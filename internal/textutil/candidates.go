package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
)

// StopWords is a set of lower-case tokens excluded from keyword candidates.
type StopWords interface {
	Contains(token string) bool
}

type tokenMap analysis.TokenMap

func (m tokenMap) Contains(token string) bool { return m[token] }

// EnglishStopWords returns the English stop list shipped with bleve.
func EnglishStopWords() (StopWords, error) {
	m := analysis.NewTokenMap()
	if err := m.LoadBytes(en.EnglishStopWords); err != nil {
		return nil, err
	}
	return tokenMap(m), nil
}

// Tokens lower-cases content, drops characters that are neither letters,
// digits nor whitespace, splits on whitespace and removes stop words.
func Tokens(content string, stop StopWords) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, content)

	fields := strings.Fields(cleaned)
	out := fields[:0]
	for _, f := range fields {
		if stop != nil && stop.Contains(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Candidates returns every unigram and adjacent bigram of the stop-filtered tokens,
// deduplicated in first-seen order, skipping those shorter than minLen runes.
// Each unigram is followed by the bigram it starts, so any prefix of the result
// covers both kinds. Bigrams span tokens that were adjacent after stop-word removal.
func Candidates(content string, stop StopWords, minLen int) []string {
	tokens := Tokens(content, stop)

	seen := make(map[string]struct{}, len(tokens)*2)
	var out []string
	add := func(c string) {
		if utf8.RuneCountInString(c) < minLen {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	for i, tok := range tokens {
		add(tok)
		if i+1 < len(tokens) {
			add(tok + " " + tokens[i+1])
		}
	}
	return out
}
