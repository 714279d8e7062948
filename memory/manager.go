package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
)

// Manager defaults. The inactivity gap is deliberately generous: a
// therapeutic exchange can pause for minutes without the session being
// over.
const (
	DefaultInactivityGap = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// ManagerConfig tunes session closing.
type ManagerConfig struct {
	// InactivityGap is how long a session may sit idle before the
	// sweeper closes it and hands it to long-term memory.
	InactivityGap time.Duration

	// SweepInterval is how often the watcher checks for idle sessions.
	SweepInterval time.Duration
}

// Manager owns the session lifecycle between the two memory tiers: it
// watches for idle sessions, closes them, and merges their turns into
// the owning user's profile. Handoffs run asynchronously but are
// serialized per user and drained by Shutdown, so no insight is lost to
// process exit and no profile sees concurrent writers.
type Manager struct {
	stm    ShortTerm
	ltm    LongTerm
	cfg    ManagerConfig
	logger *zap.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
	started   bool

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// NewManager wires the two memory tiers together. Zero config fields
// take the package defaults; a nil logger disables logging.
func NewManager(stm ShortTerm, ltm LongTerm, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.InactivityGap <= 0 {
		cfg.InactivityGap = DefaultInactivityGap
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		stm:       stm,
		ltm:       ltm,
		cfg:       cfg,
		logger:    logger,
		userLocks: make(map[string]*sync.Mutex),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// Start launches the idle-session watcher. Safe to call once; callers
// that only close sessions explicitly may skip it.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.watch()
}

func (m *Manager) watch() {
	defer close(m.loopDone)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.Sweep(context.Background()); err != nil {
				m.logger.Warn("idle session sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep closes every session idle past the configured gap and hands
// each one to long-term memory asynchronously. Returns the close error,
// if any; handoff failures are logged, not returned.
func (m *Manager) Sweep(ctx context.Context) error {
	closed, err := m.stm.CloseIdle(ctx, m.cfg.InactivityGap)
	if err != nil {
		return err
	}
	for _, cs := range closed {
		m.wg.Add(1)
		go func(cs ClosedSession) {
			defer m.wg.Done()
			m.handoff(context.WithoutCancel(ctx), cs)
		}(cs)
	}
	return nil
}

// CloseUser closes the user's active session, if any, and merges it
// into their profile before returning. Used when a front end ends the
// conversation explicitly.
func (m *Manager) CloseUser(ctx context.Context, userID string) error {
	sessionID, ok, err := m.stm.ActiveSession(ctx, userID)
	if err != nil || !ok {
		return err
	}
	cs, err := m.stm.CloseSession(ctx, sessionID)
	if err != nil {
		return err
	}
	m.handoff(ctx, *cs)
	return nil
}

// handoff merges one closed session into its user's profile, retrying
// once on a transient fault. Serialized per user so concurrent closes
// cannot interleave profile writes. A handoff that fails permanently is
// logged and dropped; the profile simply misses that session.
func (m *Manager) handoff(ctx context.Context, cs ClosedSession) {
	if len(cs.Turns) == 0 {
		return
	}
	lock := m.userLock(cs.UserID)
	lock.Lock()
	defer lock.Unlock()

	err := m.ltm.Update(ctx, cs.UserID, cs.Turns)
	if err != nil && core.IsTransient(err) && ctx.Err() == nil {
		err = m.ltm.Update(ctx, cs.UserID, cs.Turns)
	}
	if err != nil {
		m.logger.Error("long-term handoff failed, session insights dropped",
			zap.String("user_id", cs.UserID),
			zap.String("session_id", cs.SessionID),
			zap.Error(err))
		return
	}
	m.logger.Debug("session merged into profile",
		zap.String("user_id", cs.UserID),
		zap.String("session_id", cs.SessionID),
		zap.Int("turns", len(cs.Turns)))
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// Shutdown stops the watcher, runs a final sweep so in-flight sessions
// reach long-term memory, and waits for every pending handoff. Returns
// ctx.Err() if the drain outlives the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if started {
		m.stopOnce.Do(func() { close(m.stop) })
		<-m.loopDone
	}

	if err := m.Sweep(ctx); err != nil {
		m.logger.Warn("final sweep failed", zap.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
