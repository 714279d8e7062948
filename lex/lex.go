// Package lex provides the deterministic lexical primitives the rest of
// the system classifies with: tokenizing, content-word extraction,
// overlap similarity, and the emotion/coping lexicons. Everything here
// is pure and allocation-light; no component calls out of process.
package lex

import (
	"strings"
	"unicode"
)

// stopwords are excluded from content-word extraction so theme counting
// and overlap similarity track substance, not glue.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "if": true, "then": true, "so": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "about": true, "into": true, "from": true, "by": true,
	"is": true, "am": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "do": true, "does": true,
	"did": true, "have": true, "has": true, "had": true, "will": true,
	"would": true, "can": true, "could": true, "should": true,
	"i": true, "im": true, "me": true, "my": true, "mine": true,
	"you": true, "your": true, "it": true, "its": true, "this": true,
	"that": true, "these": true, "those": true, "there": true,
	"what": true, "when": true, "where": true, "why": true, "how": true,
	"just": true, "really": true, "very": true, "not": true, "no": true,
	"dont": true, "cant": true, "like": true, "know": true, "feel": true,
	"feeling": true, "felt": true, "get": true, "got": true,
}

// Tokenize lowercases s and splits it into word tokens, stripping
// punctuation. Apostrophes are dropped in place ("don't" -> "dont") so
// contractions stay single tokens.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// drop
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// ContentWords returns the tokens of s that carry topical content:
// stopwords and one- or two-letter tokens are removed.
func ContentWords(s string) []string {
	var words []string
	for _, tok := range Tokenize(s) {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		words = append(words, tok)
	}
	return words
}

// Overlap computes the Jaccard similarity of the content-word sets of a
// and b, in [0, 1]. Two empty inputs overlap fully.
func Overlap(a, b string) float64 {
	setA := wordSet(ContentWords(a))
	setB := wordSet(ContentWords(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// QuestionLike reports whether s reads as an explicit question: it ends
// in a question mark or opens with an interrogative.
func QuestionLike(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	tokens := Tokenize(trimmed)
	if len(tokens) == 0 {
		return false
	}
	switch tokens[0] {
	case "what", "why", "how", "when", "where", "who", "which",
		"is", "are", "does", "do", "can", "could", "should", "would":
		return true
	}
	return false
}
