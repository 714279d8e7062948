// Package planner turns one screened utterance into a PlanDirective:
// the set of specialist capabilities to invoke this turn and, when the
// wellness path runs, the query it should retrieve with. Planning is a
// pure function over the utterance, the recent short-term window, and
// the long-term profile; it makes no I/O and never selects an empty
// capability set.
package planner

import (
	"strings"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/lex"
	"github.com/monikatyab/anaya-m2m/memory"
)

// Intent labels assigned to each turn.
const (
	IntentQuestion  = "question"
	IntentSupport   = "support"
	IntentMixed     = "mixed"
	IntentStatement = "statement"
)

// Config tunes the planner.
type Config struct {
	// ReflectionCooldown is how many recent turns must be free of a
	// reflection fragment before reflection is selected again.
	ReflectionCooldown int
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{ReflectionCooldown: 3}
}

// Plan is the planner's read of one turn.
type Plan struct {
	Directive core.PlanDirective

	// Emotion is the lexical emotional read of the utterance, recorded
	// on the committed turn. Empty when nothing matched.
	Emotion string

	// Intent classifies the utterance: question, support, mixed, or
	// statement.
	Intent string
}

// Planner selects capabilities for screened, non-crisis turns.
type Planner struct {
	cfg Config
}

// New creates a planner.
func New(cfg Config) *Planner {
	if cfg.ReflectionCooldown <= 0 {
		cfg.ReflectionCooldown = DefaultConfig().ReflectionCooldown
	}
	return &Planner{cfg: cfg}
}

// Decide builds the turn's plan. The window holds the session's recent
// committed turns, most recent last; profile is never nil in practice
// but a nil profile plans as a first contact.
func (p *Planner) Decide(utterance string, window []core.Turn, profile *memory.UserProfile) Plan {
	emotion := lex.EmotionOf(utterance)
	question := lex.QuestionLike(utterance)

	intent := IntentStatement
	switch {
	case question && emotion != "":
		intent = IntentMixed
	case question:
		intent = IntentQuestion
	case emotion != "":
		intent = IntentSupport
	}

	// A purely factual turn is a question with no emotional charge in
	// the utterance itself. Everything else keeps the wellness backbone.
	purelyFactual := question && emotion == ""

	var caps []core.Capability
	if !purelyFactual {
		caps = append(caps, core.CapabilityWellness)
	}
	if p.wantReflection(window, purelyFactual) {
		caps = append(caps, core.CapabilityReflection)
	}
	if question {
		caps = append(caps, core.CapabilityFactual)
	}
	if len(caps) == 0 {
		caps = []core.Capability{core.CapabilityWellness}
	}

	directive := core.PlanDirective{Capabilities: caps}
	if directive.Has(core.CapabilityWellness) {
		directive.RetrievalQuery = retrievalQuery(utterance, profile)
	}

	return Plan{Directive: directive, Emotion: emotion, Intent: intent}
}

// wantReflection gates the reflection capability: there must be
// something in the window to reflect on, the turn must not be purely
// factual, and no reflection fragment may have run within the cooldown.
func (p *Planner) wantReflection(window []core.Turn, purelyFactual bool) bool {
	if purelyFactual || len(window) == 0 {
		return false
	}
	recent := window
	if len(recent) > p.cfg.ReflectionCooldown {
		recent = recent[len(recent)-p.cfg.ReflectionCooldown:]
	}
	for _, turn := range recent {
		for _, c := range turn.Capabilities {
			if c == core.CapabilityReflection {
				return false
			}
		}
	}
	return true
}

// retrievalQuery derives the wellness retrieval query from the
// utterance's content words plus the profile's dominant recurring
// theme, so retrieval stays anchored to what this user keeps coming
// back to.
func retrievalQuery(utterance string, profile *memory.UserProfile) string {
	words := lex.ContentWords(utterance)
	if emotion := lex.EmotionOf(utterance); emotion != "" {
		words = append(words, emotion)
	}
	if profile != nil {
		if theme := profile.DominantTheme(); theme != "" && !containsWord(words, theme) {
			words = append(words, theme)
		}
	}
	if len(words) == 0 {
		return strings.TrimSpace(utterance)
	}
	return strings.Join(words, " ")
}

func containsWord(words []string, w string) bool {
	for _, have := range words {
		if have == w {
			return true
		}
	}
	return false
}
