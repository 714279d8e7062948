// Package sqlite persists both memory stores in one SQLite database.
// It carries the exact contract of the in-memory store onto disk:
// committed turns are append-only rows per session, profiles are one
// row per user overwritten in place. A single connection plus WAL
// keeps writes serialized without giving up concurrent reads.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	last_active INTEGER NOT NULL,
	closed      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, closed);

CREATE TABLE IF NOT EXISTS pending_turns (
	session_id TEXT NOT NULL,
	turn_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	ts         TEXT NOT NULL,
	utterance  TEXT NOT NULL,
	PRIMARY KEY (session_id, turn_id)
);

CREATE TABLE IF NOT EXISTS turns (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	turn_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	ts           TEXT NOT NULL,
	utterance    TEXT NOT NULL,
	emotion      TEXT NOT NULL DEFAULT '',
	intent       TEXT NOT NULL DEFAULT '',
	crisis       INTEGER NOT NULL DEFAULT 0,
	response     TEXT NOT NULL,
	phase        TEXT NOT NULL,
	capabilities TEXT NOT NULL DEFAULT '[]',
	UNIQUE (session_id, turn_id)
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);

CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	profile TEXT NOT NULL
);
`

// Store implements memory.ShortTerm and memory.LongTerm over SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// New opens (or creates) the database at path and prepares the schema.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One writer connection; WAL still lets readers proceed.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendPending records an incoming draft and opens (or reactivates)
// its session. Appending the same (session, turn) pair twice is a
// no-op so retries cannot duplicate.
func (s *Store) AppendPending(ctx context.Context, draft core.TurnDraft) error {
	if draft.SessionID == "" || draft.TurnID == "" {
		return fmt.Errorf("sqlite: draft missing session or turn id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, last_active, closed) VALUES (?, ?, ?, 0)
		ON CONFLICT(session_id) DO UPDATE SET last_active = excluded.last_active, closed = 0`,
		draft.SessionID, draft.UserID, s.now().UnixNano()); err != nil {
		return fmt.Errorf("sqlite: upsert session: %w", err)
	}

	var committed int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM turns WHERE session_id = ? AND turn_id = ?`,
		draft.SessionID, draft.TurnID).Scan(&committed)
	if err != nil {
		return fmt.Errorf("sqlite: check committed: %w", err)
	}
	if committed > 0 {
		return fmt.Errorf("sqlite: turn %s already committed: %w", draft.TurnID, memory.ErrWriteConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_turns (session_id, turn_id, user_id, ts, utterance)
		VALUES (?, ?, ?, ?, ?)`,
		draft.SessionID, draft.TurnID, draft.UserID,
		draft.Timestamp.UTC().Format(time.RFC3339Nano), draft.Utterance); err != nil {
		return fmt.Errorf("sqlite: insert pending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit append: %w", err)
	}
	return nil
}

// Commit finalizes a pending draft into the session's turn log.
func (s *Store) Commit(ctx context.Context, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin commit: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE session_id = ?`, turn.SessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("sqlite: commit to unknown session %s: %w", turn.SessionID, memory.ErrNotFound)
	}

	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM turns WHERE session_id = ? AND turn_id = ?`,
		turn.SessionID, turn.TurnID).Scan(&dup)
	if err != nil {
		return fmt.Errorf("sqlite: check duplicate: %w", err)
	}
	if dup > 0 {
		return fmt.Errorf("sqlite: turn %s already committed: %w", turn.TurnID, memory.ErrWriteConflict)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM pending_turns WHERE session_id = ? AND turn_id = ?`,
		turn.SessionID, turn.TurnID)
	if err != nil {
		return fmt.Errorf("sqlite: clear pending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: no pending draft for turn %s: %w", turn.TurnID, memory.ErrNotFound)
	}

	caps, err := json.Marshal(turn.Capabilities)
	if err != nil {
		return fmt.Errorf("sqlite: encode capabilities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, turn_id, user_id, ts, utterance, emotion, intent, crisis, response, phase, capabilities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.SessionID, turn.TurnID, turn.UserID,
		turn.Timestamp.UTC().Format(time.RFC3339Nano), turn.Utterance,
		turn.DetectedEmotion, turn.IntentLabel, boolToInt(turn.CrisisFlag),
		turn.Response, string(turn.Phase), string(caps)); err != nil {
		return fmt.Errorf("sqlite: insert turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE session_id = ?`,
		s.now().UnixNano(), turn.SessionID); err != nil {
		return fmt.Errorf("sqlite: touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit turn: %w", err)
	}
	return nil
}

// Recent returns up to n committed turns, oldest first among the
// returned window, most recent last.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("sqlite: check session: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("sqlite: session %s: %w", sessionID, memory.ErrNotFound)
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, session_id, user_id, ts, utterance, emotion, intent, crisis, response, phase, capabilities
		FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query recent: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// The query walked newest-first; the contract is oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ActiveSession reports the user's most recent open session.
func (s *Store) ActiveSession(ctx context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sid string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id FROM sessions
		WHERE user_id = ? AND closed = 0
		ORDER BY last_active DESC LIMIT 1`, userID).Scan(&sid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: query active session: %w", err)
	}
	return sid, true, nil
}

// CloseIdle closes sessions idle for at least gap. Sessions without
// committed turns are closed silently; the rest are returned for
// long-term handoff, ordered by session id for determinism.
func (s *Store) CloseIdle(ctx context.Context, gap time.Duration) ([]memory.ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin close idle: %w", err)
	}
	defer tx.Rollback()

	cutoff := s.now().Add(-gap).UnixNano()
	rows, err := tx.QueryContext(ctx, `
		SELECT session_id, user_id FROM sessions
		WHERE closed = 0 AND last_active <= ?
		ORDER BY session_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query idle sessions: %w", err)
	}
	var idle []memory.ClosedSession
	for rows.Next() {
		var cs memory.ClosedSession
		if err := rows.Scan(&cs.SessionID, &cs.UserID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan idle session: %w", err)
		}
		idle = append(idle, cs)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterate idle sessions: %w", err)
	}
	rows.Close()

	var closed []memory.ClosedSession
	for _, cs := range idle {
		turns, err := closeInTx(ctx, tx, cs.SessionID)
		if err != nil {
			return nil, err
		}
		if len(turns) == 0 {
			continue
		}
		cs.Turns = turns
		closed = append(closed, cs)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit close idle: %w", err)
	}
	return closed, nil
}

// CloseSession closes one session explicitly.
func (s *Store) CloseSession(ctx context.Context, sessionID string) (*memory.ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin close: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var isClosed int
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, closed FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&userID, &isClosed)
	if err == sql.ErrNoRows || (err == nil && isClosed != 0) {
		return nil, fmt.Errorf("sqlite: session %s: %w", sessionID, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: check session: %w", err)
	}

	turns, err := closeInTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit close: %w", err)
	}
	return &memory.ClosedSession{SessionID: sessionID, UserID: userID, Turns: turns}, nil
}

// closeInTx marks a session closed, drops its abandoned pending
// drafts, and returns its committed turns in commit order.
func closeInTx(ctx context.Context, tx *sql.Tx, sessionID string) ([]core.Turn, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET closed = 1 WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("sqlite: mark closed: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_turns WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("sqlite: drop pending: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT turn_id, session_id, user_id, ts, utterance, emotion, intent, crisis, response, phase, capabilities
		FROM turns WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query session turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// Update merges a closed session into the user's profile. The profile
// row is read, merged in memory, and written back whole; per-session
// idempotency comes from the profile's own session list.
func (s *Store) Update(ctx context.Context, userID string, turns []core.Turn) error {
	if userID == "" {
		return fmt.Errorf("sqlite: update requires a user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin update: %w", err)
	}
	defer tx.Rollback()

	profile, err := profileInTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	memory.MergeSession(profile, turns, s.now())

	encoded, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("sqlite: encode profile: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, profile) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET profile = excluded.profile`,
		userID, string(encoded)); err != nil {
		return fmt.Errorf("sqlite: write profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit update: %w", err)
	}
	return nil
}

// ProfileFor returns the user's profile, or a default empty profile
// for unknown users.
func (s *Store) ProfileFor(ctx context.Context, userID string) (*memory.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile FROM profiles WHERE user_id = ?`, userID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return memory.NewProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query profile: %w", err)
	}

	var profile memory.UserProfile
	if err := json.Unmarshal([]byte(encoded), &profile); err != nil {
		return nil, fmt.Errorf("sqlite: decode profile: %w", err)
	}
	return &profile, nil
}

// profileInTx loads the profile inside an open transaction, defaulting
// for unknown users.
func profileInTx(ctx context.Context, tx *sql.Tx, userID string) (*memory.UserProfile, error) {
	var encoded string
	err := tx.QueryRowContext(ctx,
		`SELECT profile FROM profiles WHERE user_id = ?`, userID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return memory.NewProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query profile: %w", err)
	}
	var profile memory.UserProfile
	if err := json.Unmarshal([]byte(encoded), &profile); err != nil {
		return nil, fmt.Errorf("sqlite: decode profile: %w", err)
	}
	return &profile, nil
}

// scanTurns reads turn rows in query order.
func scanTurns(rows *sql.Rows) ([]core.Turn, error) {
	var turns []core.Turn
	for rows.Next() {
		var (
			t       core.Turn
			ts      string
			crisis  int
			phase   string
			capsRaw string
		)
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.UserID, &ts, &t.Utterance,
			&t.DetectedEmotion, &t.IntentLabel, &crisis, &t.Response, &phase, &capsRaw); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse turn timestamp: %w", err)
		}
		t.Timestamp = parsed
		t.CrisisFlag = crisis != 0
		t.Phase = core.Phase(phase)
		if err := json.Unmarshal([]byte(capsRaw), &t.Capabilities); err != nil {
			return nil, fmt.Errorf("sqlite: decode capabilities: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate turns: %w", err)
	}
	return turns, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
