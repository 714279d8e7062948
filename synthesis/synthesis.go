// Package synthesis merges specialist fragments into one candidate
// response. The merge is deterministic: fragments order by capability
// rank, never by completion order, so identical inputs always produce
// the identical draft.
package synthesis

import (
	"sort"
	"strings"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/lex"
)

// DefaultOverlapThreshold is the content-word Jaccard overlap above
// which a woven fragment counts as redundant with the backbone.
const DefaultOverlapThreshold = 0.5

// fallbackDraft covers the turn where every executor dropped out:
// validate, bridge, then a gentle open question.
const fallbackDraft = "Thank you for telling me this. I want to make sure I'm really hearing you. What feels like the most important part of it right now?"

// Synthesizer merges fragments concatenation-with-priority style: the
// wellness fragment is the backbone, reflection then factual are woven
// in only when non-empty and not redundant with it.
type Synthesizer struct {
	threshold float64
}

// New creates a Synthesizer. threshold <= 0 selects
// DefaultOverlapThreshold.
func New(threshold float64) *Synthesizer {
	if threshold <= 0 {
		threshold = DefaultOverlapThreshold
	}
	return &Synthesizer{threshold: threshold}
}

// Merge builds the draft response from this turn's fragments. Empty
// fragments are skipped; when no fragment carries text the fixed
// fallback draft is returned, so the caller always has exactly one
// non-empty candidate.
func (s *Synthesizer) Merge(frags []core.Fragment) string {
	ordered := make([]core.Fragment, 0, len(frags))
	for _, f := range frags {
		if strings.TrimSpace(f.Text) != "" {
			ordered = append(ordered, f)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Capability.Rank() < ordered[j].Capability.Rank()
	})

	if len(ordered) == 0 {
		return fallbackDraft
	}

	backbone := ordered[0].Text
	parts := []string{backbone}
	for _, f := range ordered[1:] {
		if lex.Overlap(f.Text, backbone) >= s.threshold {
			continue
		}
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, " ")
}
