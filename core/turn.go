package core

import "time"

// Turn is one user-utterance/response exchange within a session.
// A Turn is immutable once committed: the orchestrator creates it,
// writes it once to short-term memory, and never mutates it again.
type Turn struct {
	// TurnID uniquely identifies the turn within its session.
	TurnID string `json:"turn_id"`

	// UserID identifies the user the turn belongs to.
	UserID string `json:"user_id"`

	// SessionID groups turns into one bounded conversation.
	SessionID string `json:"session_id"`

	// Timestamp is when the utterance was received.
	Timestamp time.Time `json:"timestamp"`

	// Utterance is the raw user input for this turn.
	Utterance string `json:"utterance"`

	// DetectedEmotion is the lexical emotional read of the utterance
	// ("anxious", "sad", ...), empty when nothing matched.
	DetectedEmotion string `json:"detected_emotion,omitempty"`

	// IntentLabel classifies the utterance (question, support, mixed,
	// statement). Assigned by the planner.
	IntentLabel string `json:"intent_label,omitempty"`

	// CrisisFlag marks turns that took the crisis shortcut.
	CrisisFlag bool `json:"crisis_flag"`

	// Response is the finalized outbound message.
	Response string `json:"response"`

	// Phase is the therapeutic phase the response was framed in.
	Phase Phase `json:"phase"`

	// Capabilities records which specialist capabilities contributed
	// fragments to the response. Empty for crisis turns.
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// TurnDraft is the pending form of a turn, appended to short-term
// memory before screening so a crash mid-turn never loses the input.
type TurnDraft struct {
	TurnID    string    `json:"turn_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Utterance string    `json:"utterance"`
}
