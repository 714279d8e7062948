// Package crisis implements the lexical risk screen that runs on every
// utterance before planning begins. Detection is a pure function over
// the current utterance: no history, no model calls, no I/O. Matching
// is phrase-level on word boundaries so that idioms ("killing it") are
// not confused with risk statements ("kill myself").
package crisis

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of screening one utterance.
type Result struct {
	IsCrisis bool
	Matched  []string
}

// defaultRiskTerms is the maintained phrase list. Ambiguous stems are
// only ever listed as full phrases, never as single tokens.
var defaultRiskTerms = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"killing myself",
	"end my life",
	"ending my life",
	"take my own life",
	"want to die",
	"wanna die",
	"better off dead",
	"no reason to live",
	"life isn't worth living",
	"life is not worth living",
	"self harm",
	"self-harm",
	"harm myself",
	"harming myself",
	"hurt myself",
	"hurting myself",
	"cut myself",
	"cutting myself",
	"end it all",
	"can't go on",
	"cant go on",
}

// Detector screens utterances against a compiled risk-term list.
type Detector struct {
	terms    []string
	patterns []*regexp.Regexp
}

// NewDetector builds a detector over the default risk-term list.
func NewDetector() *Detector {
	d, err := NewDetectorWithTerms(defaultRiskTerms)
	if err != nil {
		// The default list is static and known-good.
		panic(fmt.Sprintf("crisis: default term list failed to compile: %v", err))
	}
	return d
}

// NewDetectorWithTerms builds a detector over a custom term list. Every
// term is matched case-insensitively on word boundaries; interior
// whitespace matches any run of whitespace. Fails when the list is
// empty or contains a blank term, since an empty screen would silently
// pass every utterance.
func NewDetectorWithTerms(terms []string) (*Detector, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("crisis: risk term list is empty")
	}
	d := &Detector{terms: make([]string, 0, len(terms)), patterns: make([]*regexp.Regexp, 0, len(terms))}
	for _, term := range terms {
		trimmed := strings.TrimSpace(term)
		if trimmed == "" {
			return nil, fmt.Errorf("crisis: blank risk term in list")
		}
		expr := regexp.QuoteMeta(strings.ToLower(trimmed))
		expr = strings.ReplaceAll(expr, " ", `\s+`)
		pattern, err := regexp.Compile(`(?i)\b` + expr + `\b`)
		if err != nil {
			return nil, fmt.Errorf("crisis: compile term %q: %w", trimmed, err)
		}
		d.terms = append(d.terms, trimmed)
		d.patterns = append(d.patterns, pattern)
	}
	return d, nil
}

// Screen scans a single utterance for risk indicators. Malformed input
// is never an error: empty or whitespace-only utterances are simply
// non-crisis. The error return exists for custom screener
// implementations; this detector always returns nil.
func (d *Detector) Screen(utterance string) (Result, error) {
	if strings.TrimSpace(utterance) == "" {
		return Result{}, nil
	}
	var matched []string
	for i, pattern := range d.patterns {
		if pattern.MatchString(utterance) {
			matched = append(matched, d.terms[i])
		}
	}
	return Result{IsCrisis: len(matched) > 0, Matched: matched}, nil
}
