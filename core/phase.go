package core

// Phase is the therapeutic phase a session is in. Phases progress
// strictly forward within a session; only a crisis interrupt may reset
// the progression back to understanding.
type Phase string

const (
	PhaseUnderstanding Phase = "understanding"
	PhaseExploring     Phase = "exploring"
	PhaseCoping        Phase = "coping"
	PhaseIntegration   Phase = "integration"
)

// phaseOrder maps each phase to its position in the progression.
var phaseOrder = map[Phase]int{
	PhaseUnderstanding: 0,
	PhaseExploring:     1,
	PhaseCoping:        2,
	PhaseIntegration:   3,
}

// Ordinal returns the phase's position in the progression, or -1 for
// an unknown phase.
func (p Phase) Ordinal() int {
	if n, ok := phaseOrder[p]; ok {
		return n
	}
	return -1
}

// Next returns the phase that follows p. Integration is terminal and
// returns itself.
func (p Phase) Next() Phase {
	switch p {
	case PhaseUnderstanding:
		return PhaseExploring
	case PhaseExploring:
		return PhaseCoping
	case PhaseCoping:
		return PhaseIntegration
	default:
		return PhaseIntegration
	}
}

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}
