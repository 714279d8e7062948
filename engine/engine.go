// Package engine implements the turn orchestrator: the state machine
// that carries each user utterance through crisis screening, planning,
// specialist execution, synthesis, phase finalization, and the commit
// to short-term memory. The engine owns turn ordering and failure
// policy; the components it drives are injected and individually
// replaceable.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/crisis"
	"github.com/monikatyab/anaya-m2m/dialogue"
	"github.com/monikatyab/anaya-m2m/llm"
	"github.com/monikatyab/anaya-m2m/memory"
	"github.com/monikatyab/anaya-m2m/planner"
	"github.com/monikatyab/anaya-m2m/retrieval"
	"github.com/monikatyab/anaya-m2m/specialist"
	"github.com/monikatyab/anaya-m2m/synthesis"
)

// FallbackResponse is returned for turns the engine could not carry to
// commit. Internal error detail goes to the log, never to the user.
const FallbackResponse = "I'm sorry, something went wrong on my side just now. I'm still here with you. Could you try saying that again in a moment?"

// Default engine tunables.
const (
	DefaultRecentWindow    = 10
	DefaultExecutorTimeout = 15 * time.Second
)

// Config tunes the engine itself. Component-level knobs (reflection
// cooldown, overlap threshold, phase pacing) live on the components
// and are set when those are constructed.
type Config struct {
	// RecentWindow is how many committed turns are pulled from
	// short-term memory as planning and phase context.
	RecentWindow int

	// ExecutorTimeout bounds the whole specialist fan-out for one
	// turn. Executors that miss it have their fragments dropped; the
	// turn still completes on whatever came back.
	ExecutorTimeout time.Duration

	// TopK is passed to the default executors for retrieval calls.
	TopK int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		RecentWindow:    DefaultRecentWindow,
		ExecutorTimeout: DefaultExecutorTimeout,
		TopK:            retrieval.DefaultTopK,
	}
}

// Screener decides whether an utterance requires the crisis shortcut.
// Satisfied by *crisis.Detector.
type Screener interface {
	Screen(utterance string) (crisis.Result, error)
}

// TurnOutput is the result of one processed turn. Front ends render
// Response verbatim.
type TurnOutput struct {
	Response   string     `json:"response"`
	Phase      core.Phase `json:"phase,omitempty"`
	CrisisFlag bool       `json:"crisis_flag"`

	// Turn is the committed record, nil when the turn failed before
	// it could be committed.
	Turn *core.Turn `json:"turn,omitempty"`
}

// Engine drives the per-turn state machine over injected components.
type Engine struct {
	stm memory.ShortTerm
	ltm memory.LongTerm

	screener  Screener
	planner   *planner.Planner
	executors map[core.Capability]specialist.Executor
	synth     *synthesis.Synthesizer
	dialogue  *dialogue.Manager

	// searcher and generator are only consulted while building the
	// default executor set; explicit WithExecutors wins over both.
	searcher  retrieval.Searcher
	generator llm.Generator

	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig replaces the engine tunables. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.RecentWindow > 0 {
			e.cfg.RecentWindow = cfg.RecentWindow
		}
		if cfg.ExecutorTimeout > 0 {
			e.cfg.ExecutorTimeout = cfg.ExecutorTimeout
		}
		if cfg.TopK > 0 {
			e.cfg.TopK = cfg.TopK
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithScreener replaces the default crisis detector.
func WithScreener(s Screener) Option {
	return func(e *Engine) {
		e.screener = s
	}
}

// WithPlanner replaces the default planner.
func WithPlanner(p *planner.Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithSynthesizer replaces the default synthesizer.
func WithSynthesizer(s *synthesis.Synthesizer) Option {
	return func(e *Engine) {
		e.synth = s
	}
}

// WithDialogue replaces the default dialogue manager.
func WithDialogue(m *dialogue.Manager) Option {
	return func(e *Engine) {
		e.dialogue = m
	}
}

// WithSearcher wires the retrieval index the default wellness and
// factual executors ground on. Without one they fall back to lexicon
// drafts and honest no-answer replies.
func WithSearcher(s retrieval.Searcher) Option {
	return func(e *Engine) {
		e.searcher = s
	}
}

// WithGenerator wires the language model the default executors polish
// their drafts with. Without one their deterministic drafts ship
// as-is.
func WithGenerator(g llm.Generator) Option {
	return func(e *Engine) {
		e.generator = g
	}
}

// WithExecutors replaces the default executor set. Later executors
// with the same capability override earlier ones.
func WithExecutors(execs ...specialist.Executor) Option {
	return func(e *Engine) {
		e.executors = make(map[core.Capability]specialist.Executor, len(execs))
		for _, x := range execs {
			e.executors[x.Capability()] = x
		}
	}
}

// New creates an engine over the given memory stores. Every other
// component has a working default, so a bare New(stm, ltm) yields a
// fully offline, deterministic agent.
func New(stm memory.ShortTerm, ltm memory.LongTerm, opts ...Option) *Engine {
	e := &Engine{
		stm:          stm,
		ltm:          ltm,
		cfg:          DefaultConfig(),
		sessionLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.screener == nil {
		e.screener = crisis.NewDetector()
	}
	if e.planner == nil {
		e.planner = planner.New(planner.DefaultConfig())
	}
	if e.synth == nil {
		e.synth = synthesis.New(synthesis.DefaultOverlapThreshold)
	}
	if e.dialogue == nil {
		e.dialogue = dialogue.NewManager(dialogue.DefaultConfig())
	}
	if e.executors == nil {
		e.executors = map[core.Capability]specialist.Executor{
			core.CapabilityWellness:   specialist.NewWellness(e.searcher, e.generator, e.cfg.TopK, e.logger),
			core.CapabilityReflection: specialist.NewReflection(e.logger),
			core.CapabilityFactual:    specialist.NewFactual(e.searcher, e.generator, e.cfg.TopK, e.logger),
		}
	}
	return e
}

// ProcessTurn runs one utterance through the full state machine and
// returns the finalized response. At most one turn per session is in
// flight at a time; concurrent calls for the same session queue.
//
// A non-nil error is returned only when the input is invalid or the
// caller's context ended before the turn reached execution; every
// internal failure is absorbed into a FallbackResponse output with a
// nil Turn.
func (e *Engine) ProcessTurn(ctx context.Context, in *core.TurnInput) (*TurnOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock := e.lockSession(in.SessionID)
	defer unlock()

	// RECEIVED: the pending draft reaches short-term memory before any
	// screening so a crash mid-turn cannot lose what the user said.
	draft := core.TurnDraft{
		TurnID:    uuid.New().String(),
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Timestamp: time.Now().UTC(),
		Utterance: in.Utterance,
	}
	if err := e.retry(ctx, "stm.append_pending", func(c context.Context) error {
		return e.stm.AppendPending(c, draft)
	}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.failed(draft, StateReceived, err), nil
	}

	// SCREENED: every utterance is screened before anything else runs.
	// A broken screen is treated as a crisis, never as a clear.
	res, err := e.screener.Screen(in.Utterance)
	if err != nil {
		e.logger.Error("crisis screening failed, assuming crisis",
			zap.String("turn_id", draft.TurnID), zap.Error(err))
		res = crisis.Result{IsCrisis: true}
	}
	if res.IsCrisis {
		return e.crisisShortcut(ctx, draft, res), nil
	}

	// PLANNED: context reads degrade rather than block. A missing
	// window plans as a fresh session, a missing profile as a first
	// contact.
	window := e.windowOrEmpty(ctx, draft.SessionID)
	profile := e.profileOrDefault(ctx, draft.UserID)
	plan := e.planner.Decide(in.Utterance, window, profile)

	// The caller may abandon a non-crisis turn any time before
	// execution; the pending draft is dropped when the session closes.
	if err := ctx.Err(); err != nil {
		e.logger.Debug("turn abandoned before execution",
			zap.String("turn_id", draft.TurnID), zap.Error(err))
		return nil, err
	}

	// EXECUTED: fan out the planned specialists.
	frags, err := e.execute(ctx, plan, in.Utterance, window, profile)
	if err != nil {
		return nil, err
	}

	// Past EXECUTED the turn always commits, even if the caller hangs
	// up while we finish.
	dctx := context.WithoutCancel(ctx)

	// SYNTHESIZED.
	merged := e.synth.Merge(frags)

	// FINALIZED.
	phase := e.dialogue.NextPhase(window, in.Utterance)
	response := e.dialogue.Finalize(merged, phase)

	turn := core.Turn{
		TurnID:          draft.TurnID,
		UserID:          draft.UserID,
		SessionID:       draft.SessionID,
		Timestamp:       draft.Timestamp,
		Utterance:       draft.Utterance,
		DetectedEmotion: plan.Emotion,
		IntentLabel:     plan.Intent,
		Response:        response,
		Phase:           phase,
		Capabilities:    contributed(frags),
	}

	// COMMITTED.
	if err := e.retry(dctx, "stm.commit", func(c context.Context) error {
		return e.stm.Commit(c, turn)
	}); err != nil {
		return e.failed(draft, StateCommitted, err), nil
	}

	e.logger.Info("turn committed",
		zap.String("turn_id", turn.TurnID),
		zap.String("session_id", turn.SessionID),
		zap.String("phase", string(turn.Phase)),
		zap.String("intent", turn.IntentLabel),
		zap.Int("capabilities", len(turn.Capabilities)))

	return &TurnOutput{
		Response:   turn.Response,
		Phase:      turn.Phase,
		CrisisFlag: false,
		Turn:       &turn,
	}, nil
}

// crisisShortcut commits the fixed safety response and returns it. The
// shortcut runs detached from the caller's context: a client that
// disconnects mid-turn must not abandon a crisis commit, and the
// safety response goes out even when the commit itself fails.
func (e *Engine) crisisShortcut(ctx context.Context, draft core.TurnDraft, res crisis.Result) *TurnOutput {
	dctx := context.WithoutCancel(ctx)

	window := e.windowOrEmpty(dctx, draft.SessionID)
	turn := core.Turn{
		TurnID:     draft.TurnID,
		UserID:     draft.UserID,
		SessionID:  draft.SessionID,
		Timestamp:  draft.Timestamp,
		Utterance:  draft.Utterance,
		CrisisFlag: true,
		Response:   crisis.SafetyResponse,
		Phase:      e.dialogue.CrisisPhase(window),
	}

	e.logger.Info("crisis shortcut",
		zap.String("turn_id", draft.TurnID),
		zap.String("session_id", draft.SessionID),
		zap.Strings("matched", res.Matched))

	out := &TurnOutput{Response: turn.Response, Phase: turn.Phase, CrisisFlag: true}
	if err := e.retry(dctx, "stm.commit", func(c context.Context) error {
		return e.stm.Commit(c, turn)
	}); err != nil {
		e.logger.Error("crisis turn commit failed",
			zap.String("turn_id", draft.TurnID), zap.Error(err))
		return out
	}
	out.Turn = &turn
	return out
}

// execute fans the planned capabilities out concurrently and collects
// their fragments in plan order. An executor that errors or misses the
// timeout only loses its own fragment; the only error execute returns
// is the caller's own cancellation.
func (e *Engine) execute(ctx context.Context, plan planner.Plan, utterance string, window []core.Turn, profile *memory.UserProfile) ([]core.Fragment, error) {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutorTimeout)
	defer cancel()

	turnCtx := specialist.Context{
		Utterance:      utterance,
		Emotion:        plan.Emotion,
		Intent:         plan.Intent,
		Window:         window,
		Profile:        profile,
		RetrievalQuery: plan.Directive.RetrievalQuery,
	}

	caps := plan.Directive.Capabilities
	frags := make([]core.Fragment, len(caps))
	g, gctx := errgroup.WithContext(tctx)
	for i, c := range caps {
		exec, ok := e.executors[c]
		if !ok {
			e.logger.Warn("no executor for planned capability", zap.String("capability", string(c)))
			continue
		}
		i, c := i, c
		g.Go(func() error {
			frag, err := exec.Produce(gctx, turnCtx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("executor fragment dropped",
					zap.String("capability", string(c)), zap.Error(err))
				return nil
			}
			frags[i] = frag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Debug("turn abandoned during execution", zap.Error(err))
		return nil, err
	}
	return frags, nil
}

// windowOrEmpty reads the session's recent committed turns, degrading
// to an empty window when short-term memory cannot serve the read.
func (e *Engine) windowOrEmpty(ctx context.Context, sessionID string) []core.Turn {
	var window []core.Turn
	err := e.retry(ctx, "stm.recent", func(c context.Context) error {
		var rerr error
		window, rerr = e.stm.Recent(c, sessionID, e.cfg.RecentWindow)
		return rerr
	})
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		e.logger.Warn("short-term window unavailable, planning without history",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return window
}

// profileOrDefault reads the user's long-term profile, degrading to a
// fresh first-contact profile when long-term memory cannot serve it.
func (e *Engine) profileOrDefault(ctx context.Context, userID string) *memory.UserProfile {
	var profile *memory.UserProfile
	err := e.retry(ctx, "ltm.profile_for", func(c context.Context) error {
		var rerr error
		profile, rerr = e.ltm.ProfileFor(c, userID)
		return rerr
	})
	if err != nil || profile == nil {
		if err != nil {
			e.logger.Warn("profile unavailable, planning as first contact",
				zap.String("user_id", userID), zap.Error(err))
		}
		return memory.NewProfile(userID)
	}
	return profile
}

// retry runs op, retrying exactly once when the failure is transient
// and the context is still live.
func (e *Engine) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !core.IsTransient(err) || ctx.Err() != nil {
		return err
	}
	e.logger.Debug("retrying after transient failure", zap.String("op", op), zap.Error(err))
	return fn(ctx)
}

// failed logs the terminal failure and builds the fallback output.
// Nothing is committed on this path: the pending draft stays pending
// until its session closes.
func (e *Engine) failed(draft core.TurnDraft, at State, err error) *TurnOutput {
	e.logger.Error("turn failed",
		zap.String("turn_id", draft.TurnID),
		zap.String("session_id", draft.SessionID),
		zap.String("state", at.String()),
		zap.Error(err))
	return &TurnOutput{Response: FallbackResponse}
}

// contributed lists the capabilities whose fragments carried text, in
// plan order. This is what the planner's reflection cooldown reads
// back out of the window.
func contributed(frags []core.Fragment) []core.Capability {
	var caps []core.Capability
	for _, f := range frags {
		if strings.TrimSpace(f.Text) != "" {
			caps = append(caps, f.Capability)
		}
	}
	return caps
}

// lockSession serializes turns per session.
func (e *Engine) lockSession(sessionID string) func() {
	e.mu.Lock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}
