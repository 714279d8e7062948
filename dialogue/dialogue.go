// Package dialogue applies therapeutic phase logic to each turn:
// deciding which phase the session is in and appending
// phase-appropriate framing to the synthesized draft. It never alters
// the draft's substantive content.
package dialogue

import (
	"strings"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/lex"
)

// Config tunes phase progression.
type Config struct {
	// UnderstandingTurns is how many turns a fresh session stays in
	// understanding before progression logic applies.
	UnderstandingTurns int

	// HoldTurns is how many consecutive same-topic turns a phase must
	// hold before the session advances to the next one.
	HoldTurns int

	// TopicShiftBelow is the content-word overlap with the recent
	// window under which an utterance counts as a topic shift. A shift
	// pauses advancement for this turn and restarts the hold count; it
	// never regresses the phase.
	TopicShiftBelow float64

	// ResetOnCrisis controls whether a crisis interrupt resets the
	// session to understanding. Inferred policy, so it stays
	// configurable; on by default.
	ResetOnCrisis bool
}

// DefaultConfig returns the progression tuning used in production.
func DefaultConfig() Config {
	return Config{
		UnderstandingTurns: 2,
		HoldTurns:          2,
		TopicShiftBelow:    0.12,
		ResetOnCrisis:      true,
	}
}

// Manager decides phases and finalizes outbound drafts. It is
// stateless: every decision derives from the session window passed in,
// so concurrent sessions share one Manager safely.
type Manager struct {
	cfg Config
}

// NewManager creates a Manager, filling unset Config fields from
// DefaultConfig.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.UnderstandingTurns <= 0 {
		cfg.UnderstandingTurns = def.UnderstandingTurns
	}
	if cfg.HoldTurns <= 0 {
		cfg.HoldTurns = def.HoldTurns
	}
	if cfg.TopicShiftBelow <= 0 {
		cfg.TopicShiftBelow = def.TopicShiftBelow
	}
	return &Manager{cfg: cfg}
}

// NextPhase returns the phase for the incoming turn given the session's
// committed window (chronological, most recent last). Progression is
// monotonic: the result is never earlier than the last recorded phase.
func (m *Manager) NextPhase(window []core.Turn, utterance string) core.Phase {
	if len(window) < m.cfg.UnderstandingTurns {
		return PhaseFloor(window)
	}

	prev := lastPhase(window)
	if prev == core.PhaseIntegration {
		return prev
	}

	// A topic shift holds the phase and restarts the counting below on
	// the next turn.
	if m.shifted(utterance, window) {
		return prev
	}
	if m.heldFor(window, prev) >= m.cfg.HoldTurns {
		return prev.Next()
	}
	return prev
}

// CrisisPhase returns the phase recorded on a crisis turn: the reset
// policy sends the session back to understanding, otherwise the phase
// simply holds.
func (m *Manager) CrisisPhase(window []core.Turn) core.Phase {
	if m.cfg.ResetOnCrisis {
		return core.PhaseUnderstanding
	}
	return lastPhase(window)
}

// Finalize appends phase framing to the synthesized draft. Drafts that
// already close with a question are left alone; the substantive content
// is never altered either way.
func (m *Manager) Finalize(draft string, phase core.Phase) string {
	draft = strings.TrimSpace(draft)
	if draft == "" || strings.HasSuffix(draft, "?") {
		return draft
	}
	if framing, ok := phaseFraming[phase]; ok {
		return draft + " " + framing
	}
	return draft
}

// phaseFraming closes the response in a register appropriate to where
// the session is: open listening early, gentle direction later.
var phaseFraming = map[core.Phase]string{
	core.PhaseUnderstanding: "What else should I understand about what this has been like for you?",
	core.PhaseExploring:     "What do you think sits underneath that?",
	core.PhaseCoping:        "Would you be open to trying one small thing with this before we talk again?",
	core.PhaseIntegration:   "Looking at where we started, what feels different now?",
}

// PhaseFloor is the phase a session can never drop below given its
// window: the latest recorded phase, or understanding for a fresh
// session. Exposed so callers can clamp externally supplied phases.
func PhaseFloor(window []core.Turn) core.Phase {
	return lastPhase(window)
}

func lastPhase(window []core.Turn) core.Phase {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Phase.Valid() {
			return window[i].Phase
		}
	}
	return core.PhaseUnderstanding
}

// shifted reports whether the utterance departs from the window's
// recent topic material. An utterance with no content words (bare
// acknowledgements) never counts as a shift.
func (m *Manager) shifted(utterance string, window []core.Turn) bool {
	return m.shiftAt(utterance, window, len(window))
}

// shiftAt compares an utterance against each of the up-to-three turns
// before index end, individually. Only departing from all of them is a
// shift; one-to-one comparison keeps a long window from diluting the
// overlap of a continued topic.
func (m *Manager) shiftAt(utterance string, window []core.Turn, end int) bool {
	if end == 0 || len(lex.ContentWords(utterance)) == 0 {
		return false
	}
	start := end - 3
	if start < 0 {
		start = 0
	}
	for _, t := range window[start:end] {
		if lex.Overlap(utterance, t.Utterance) >= m.cfg.TopicShiftBelow {
			return false
		}
	}
	return true
}

// heldFor counts how many trailing window turns sit at phase with no
// topic shift and no crisis interrupt among them. Crisis turns and
// shifted turns end the streak, which is what restarts the hold count
// after either interruption.
func (m *Manager) heldFor(window []core.Turn, phase core.Phase) int {
	held := 0
	for i := len(window) - 1; i >= 0; i-- {
		t := window[i]
		if t.CrisisFlag || t.Phase != phase {
			break
		}
		if m.shiftAt(t.Utterance, window, i) {
			break
		}
		held++
	}
	return held
}
