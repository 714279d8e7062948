// Package inmem keeps both memory stores in process memory. It is the
// default backend for tests and for running without persistence; the
// sqlite store carries the same contract onto disk.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/memory"
)

type sessionState struct {
	userID     string
	lastActive time.Time
	closed     bool
}

// Store implements memory.ShortTerm and memory.LongTerm over maps.
// A single RWMutex serializes writes; reads copy before returning so
// callers never share mutable state with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	pending  map[string][]core.TurnDraft
	turns    map[string][]core.Turn
	byUser   map[string]string
	profiles map[string]*memory.UserProfile

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*sessionState),
		pending:  make(map[string][]core.TurnDraft),
		turns:    make(map[string][]core.Turn),
		byUser:   make(map[string]string),
		profiles: make(map[string]*memory.UserProfile),
		now:      time.Now,
	}
}

// AppendPending records an incoming draft and opens (or reactivates)
// its session. Appending the same (session, turn) pair twice is a
// no-op so retries cannot duplicate.
func (s *Store) AppendPending(ctx context.Context, draft core.TurnDraft) error {
	if draft.SessionID == "" || draft.TurnID == "" {
		return fmt.Errorf("inmem: draft missing session or turn id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[draft.SessionID]
	if !ok {
		sess = &sessionState{userID: draft.UserID}
		s.sessions[draft.SessionID] = sess
	}
	sess.closed = false
	sess.lastActive = s.now()
	s.byUser[draft.UserID] = draft.SessionID

	for _, have := range s.pending[draft.SessionID] {
		if have.TurnID == draft.TurnID {
			return nil
		}
	}
	for _, have := range s.turns[draft.SessionID] {
		if have.TurnID == draft.TurnID {
			return memory.ErrWriteConflict
		}
	}
	s.pending[draft.SessionID] = append(s.pending[draft.SessionID], draft)
	return nil
}

// Commit finalizes a pending draft into the session's turn log.
func (s *Store) Commit(ctx context.Context, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[turn.SessionID]
	if !ok {
		return fmt.Errorf("inmem: commit to unknown session %s: %w", turn.SessionID, memory.ErrNotFound)
	}

	for _, have := range s.turns[turn.SessionID] {
		if have.TurnID == turn.TurnID {
			return fmt.Errorf("inmem: turn %s already committed: %w", turn.TurnID, memory.ErrWriteConflict)
		}
	}

	drafts := s.pending[turn.SessionID]
	found := -1
	for i, d := range drafts {
		if d.TurnID == turn.TurnID {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("inmem: no pending draft for turn %s: %w", turn.TurnID, memory.ErrNotFound)
	}

	s.pending[turn.SessionID] = append(drafts[:found], drafts[found+1:]...)
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	sess.lastActive = s.now()
	return nil
}

// Recent returns up to n committed turns, oldest first among the
// returned window, most recent last.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("inmem: session %s: %w", sessionID, memory.ErrNotFound)
	}
	all := s.turns[sessionID]
	if n <= 0 || len(all) == 0 {
		return nil, nil
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]core.Turn, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

// ActiveSession reports the user's most recent open session.
func (s *Store) ActiveSession(ctx context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sid, ok := s.byUser[userID]
	if !ok {
		return "", false, nil
	}
	sess, ok := s.sessions[sid]
	if !ok || sess.closed {
		return "", false, nil
	}
	return sid, true, nil
}

// CloseIdle closes sessions idle for at least gap. Sessions without
// committed turns are closed silently; the rest are returned for
// long-term handoff, ordered by session id for determinism.
func (s *Store) CloseIdle(ctx context.Context, gap time.Duration) ([]memory.ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-gap)
	var closed []memory.ClosedSession
	for sid, sess := range s.sessions {
		if sess.closed || sess.lastActive.After(cutoff) {
			continue
		}
		cs := s.closeLocked(sid, sess)
		if cs != nil {
			closed = append(closed, *cs)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].SessionID < closed[j].SessionID })
	return closed, nil
}

// CloseSession closes one session explicitly.
func (s *Store) CloseSession(ctx context.Context, sessionID string) (*memory.ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.closed {
		return nil, fmt.Errorf("inmem: session %s: %w", sessionID, memory.ErrNotFound)
	}
	cs := s.closeLocked(sessionID, sess)
	if cs == nil {
		cs = &memory.ClosedSession{SessionID: sessionID, UserID: sess.userID}
	}
	return cs, nil
}

// closeLocked marks a session closed and returns its handoff payload,
// or nil when it has no committed turns. Abandoned pending drafts are
// dropped; they were never visible and carry no response.
func (s *Store) closeLocked(sessionID string, sess *sessionState) *memory.ClosedSession {
	sess.closed = true
	delete(s.pending, sessionID)
	if s.byUser[sess.userID] == sessionID {
		delete(s.byUser, sess.userID)
	}
	all := s.turns[sessionID]
	if len(all) == 0 {
		return nil
	}
	turns := make([]core.Turn, len(all))
	copy(turns, all)
	return &memory.ClosedSession{SessionID: sessionID, UserID: sess.userID, Turns: turns}
}

// Update merges a closed session into the user's profile.
func (s *Store) Update(ctx context.Context, userID string, turns []core.Turn) error {
	if userID == "" {
		return fmt.Errorf("inmem: update requires a user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = memory.NewProfile(userID)
		s.profiles[userID] = p
	}
	memory.MergeSession(p, turns, s.now())
	return nil
}

// ProfileFor returns a copy of the user's profile, or a default empty
// profile for unknown users.
func (s *Store) ProfileFor(ctx context.Context, userID string) (*memory.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[userID]; ok {
		return p.Clone(), nil
	}
	return memory.NewProfile(userID), nil
}
