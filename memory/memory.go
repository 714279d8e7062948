package memory

import (
	"context"
	"errors"
	"time"

	"github.com/monikatyab/anaya-m2m/core"
)

// ErrNotFound signals an unknown session or a commit without a prior
// pending draft. Callers treat unknown users/sessions as fresh state.
var ErrNotFound = errors.New("memory: not found")

// ErrWriteConflict signals a write that would violate the append-once
// discipline, such as committing the same turn twice. Serialization at
// the orchestrator keeps this from surfacing in normal operation.
var ErrWriteConflict = errors.New("memory: write conflict")

// ShortTerm is the per-session turn log.
//
// The append/commit split carries the turn lifecycle: AppendPending
// runs before crisis screening, Commit only after the response is
// finalized. Recent never returns pending turns and is
// snapshot-consistent with respect to commits.
type ShortTerm interface {
	// AppendPending records the incoming utterance before any
	// processing. Idempotent for the same (session, turn) pair so a
	// retried append cannot duplicate.
	AppendPending(ctx context.Context, draft core.TurnDraft) error

	// Commit finalizes a previously appended turn. Fails with
	// ErrNotFound when no pending draft exists and ErrWriteConflict
	// when the turn was already committed.
	Commit(ctx context.Context, turn core.Turn) error

	// Recent returns up to n committed turns for the session in
	// chronological order, most recent last. Fails with ErrNotFound
	// for an unknown session.
	Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error)

	// ActiveSession reports the user's open session, if any.
	ActiveSession(ctx context.Context, userID string) (string, bool, error)

	// CloseIdle closes every open session idle for at least gap and
	// returns the closed sessions that have committed turns, for
	// handoff to long-term memory.
	CloseIdle(ctx context.Context, gap time.Duration) ([]ClosedSession, error)

	// CloseSession closes one session explicitly and returns it for
	// handoff. Fails with ErrNotFound when the session is unknown or
	// already closed.
	CloseSession(ctx context.Context, sessionID string) (*ClosedSession, error)
}

// LongTerm is the cross-session user profile store.
type LongTerm interface {
	// Update merges a closed session's turns into the user's profile.
	// Idempotent per session: re-running it with the same session
	// leaves the profile unchanged.
	Update(ctx context.Context, userID string, turns []core.Turn) error

	// ProfileFor returns the user's profile, or a default empty
	// profile for unknown users. First contact is a valid empty state,
	// never an error.
	ProfileFor(ctx context.Context, userID string) (*UserProfile, error)
}

// ClosedSession is a session handed from short-term to long-term
// memory when it closes.
type ClosedSession struct {
	SessionID string
	UserID    string
	Turns     []core.Turn
}
