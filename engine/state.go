package engine

// State names the stage a turn has reached inside ProcessTurn. Every
// turn advances RECEIVED -> SCREENED -> PLANNED -> EXECUTED ->
// SYNTHESIZED -> FINALIZED -> COMMITTED unless it exits early through
// one of the two terminal side states: CRISIS_SHORTCUT, taken from
// SCREENED when risk language is detected, and FAILED, taken from any
// stage whose backing component cannot complete even after a retry.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateScreened       State = "SCREENED"
	StatePlanned        State = "PLANNED"
	StateExecuted       State = "EXECUTED"
	StateSynthesized    State = "SYNTHESIZED"
	StateFinalized      State = "FINALIZED"
	StateCommitted      State = "COMMITTED"
	StateCrisisShortcut State = "CRISIS_SHORTCUT"
	StateFailed         State = "FAILED"
)

func (s State) String() string {
	return string(s)
}
