package core

import (
	"errors"
	"strings"
)

// TurnInput is one inbound turn request as every front end submits it:
// who is speaking, which session the turn belongs to, and what they
// said. Front ends decode their wire frames straight into this type.
type TurnInput struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
}

// Validate reports whether the input identifies a user and a session.
// An empty utterance is allowed: it still screens, plans, and commits
// like any other turn.
func (in *TurnInput) Validate() error {
	if in == nil {
		return errors.New("turn input is nil")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return errors.New("turn input missing user_id")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return errors.New("turn input missing session_id")
	}
	return nil
}
