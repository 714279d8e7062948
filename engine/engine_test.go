package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/crisis"
	"github.com/monikatyab/anaya-m2m/engine"
	"github.com/monikatyab/anaya-m2m/memory"
	"github.com/monikatyab/anaya-m2m/memory/store/inmem"
	"github.com/monikatyab/anaya-m2m/retrieval"
	"github.com/monikatyab/anaya-m2m/specialist"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func input(user, session, utterance string) *core.TurnInput {
	return &core.TurnInput{UserID: user, SessionID: session, Utterance: utterance}
}

// flakySTM wraps the in-memory store with scripted failures. Scripted
// errors fire before the store is touched, so a failed call leaves no
// side effects behind.
type flakySTM struct {
	*inmem.Store
	mu          sync.Mutex
	appendErrs  []error
	commitErrs  []error
	appendCalls int
	commitCalls int
}

func (f *flakySTM) AppendPending(ctx context.Context, draft core.TurnDraft) error {
	f.mu.Lock()
	f.appendCalls++
	var err error
	if len(f.appendErrs) > 0 {
		err = f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.AppendPending(ctx, draft)
}

func (f *flakySTM) Commit(ctx context.Context, turn core.Turn) error {
	f.mu.Lock()
	f.commitCalls++
	var err error
	if len(f.commitErrs) > 0 {
		err = f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Commit(ctx, turn)
}

type errScreener struct{}

func (errScreener) Screen(string) (crisis.Result, error) {
	return crisis.Result{}, errors.New("screen backend down")
}

type unavailableSearcher struct{}

func (unavailableSearcher) Search(context.Context, string, int) ([]retrieval.Passage, error) {
	return nil, retrieval.ErrIndexUnavailable
}

// recordExecutor reports whether the engine ever invoked it.
type recordExecutor struct {
	capability core.Capability
	called     atomic.Bool
}

func (r *recordExecutor) Capability() core.Capability { return r.capability }

func (r *recordExecutor) Produce(context.Context, specialist.Context) (core.Fragment, error) {
	r.called.Store(true)
	return core.Fragment{Capability: r.capability, Text: "recorded fragment", Confidence: 0.7}, nil
}

// blockingExecutor never produces; it waits out its context.
type blockingExecutor struct {
	capability core.Capability
}

func (b blockingExecutor) Capability() core.Capability { return b.capability }

func (b blockingExecutor) Produce(ctx context.Context, _ specialist.Context) (core.Fragment, error) {
	<-ctx.Done()
	return core.Fragment{}, ctx.Err()
}

// gateExecutor trips if two turns ever execute concurrently.
type gateExecutor struct {
	capability core.Capability
	active     int32
	violated   atomic.Bool
}

func (g *gateExecutor) Capability() core.Capability { return g.capability }

func (g *gateExecutor) Produce(context.Context, specialist.Context) (core.Fragment, error) {
	if atomic.AddInt32(&g.active, 1) > 1 {
		g.violated.Store(true)
	}
	defer atomic.AddInt32(&g.active, -1)
	time.Sleep(10 * time.Millisecond)
	return core.Fragment{Capability: g.capability, Text: "gated fragment", Confidence: 0.7}, nil
}

func TestProcessTurnCommitsFreshAnxiousTurn(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm feeling anxious"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.CrisisFlag {
		t.Error("crisis flag set on a supportive turn")
	}
	if out.Response == "" {
		t.Fatal("empty response")
	}
	if !strings.Contains(out.Response, "anxiety") {
		t.Errorf("response %q does not validate the detected emotion", out.Response)
	}
	if out.Phase != core.PhaseUnderstanding {
		t.Errorf("phase = %q, want understanding on a fresh session", out.Phase)
	}
	if out.Turn == nil {
		t.Fatal("no committed turn returned")
	}
	if out.Turn.DetectedEmotion != "anxious" {
		t.Errorf("detected emotion = %q, want anxious", out.Turn.DetectedEmotion)
	}
	if got := out.Turn.Capabilities; len(got) != 1 || got[0] != core.CapabilityWellness {
		t.Errorf("capabilities = %v, want [wellness]", got)
	}
	if out.Turn.Response != out.Response {
		t.Error("committed response differs from returned response")
	}

	recent, err := store.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].TurnID != out.Turn.TurnID {
		t.Errorf("short-term memory does not hold the committed turn: %+v", recent)
	}
}

func TestRecentReturnsTurnsInCommitOrder(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)
	ctx := context.Background()

	utterances := []string{
		"I'm anxious about my work deadlines",
		"The work deadlines are making me anxious",
		"Still anxious about work and the deadlines today",
	}
	for _, u := range utterances {
		if _, err := e.ProcessTurn(ctx, input("u1", "s1", u)); err != nil {
			t.Fatalf("ProcessTurn(%q): %v", u, err)
		}
	}

	recent, err := store.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d turns, want 2", len(recent))
	}
	if recent[0].Utterance != utterances[1] || recent[1].Utterance != utterances[2] {
		t.Errorf("window out of order: %q then %q", recent[0].Utterance, recent[1].Utterance)
	}
}

func TestCrisisShortcutSkipsPlanningAndExecution(t *testing.T) {
	store := inmem.New()
	rec := &recordExecutor{capability: core.CapabilityWellness}
	e := engine.New(store, store, engine.WithExecutors(rec))

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I want to kill myself"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !out.CrisisFlag {
		t.Fatal("crisis flag not set")
	}
	if out.Response != crisis.SafetyResponse {
		t.Errorf("response = %q, want the fixed safety response", out.Response)
	}
	if out.Phase != core.PhaseUnderstanding {
		t.Errorf("phase = %q, want understanding", out.Phase)
	}
	if rec.called.Load() {
		t.Error("executor invoked on the crisis path")
	}
	if out.Turn == nil {
		t.Fatal("crisis turn not committed")
	}
	if !out.Turn.CrisisFlag {
		t.Error("committed turn missing crisis flag")
	}
	if len(out.Turn.Capabilities) != 0 {
		t.Errorf("crisis turn carries capabilities: %v", out.Turn.Capabilities)
	}

	recent, err := store.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || !recent[0].CrisisFlag {
		t.Errorf("crisis turn not in short-term memory: %+v", recent)
	}
}

func TestCrisisCommitsUnderCanceledContext(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.ProcessTurn(ctx, input("u1", "s1", "I can't go on, I want to end my life"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !out.CrisisFlag || out.Response != crisis.SafetyResponse {
		t.Fatalf("canceled crisis turn did not produce the safety response: %+v", out)
	}
	if out.Turn == nil {
		t.Fatal("crisis turn abandoned instead of committed")
	}
}

func TestScreenerFailureIsTreatedAsCrisis(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store, engine.WithScreener(errScreener{}))

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "lovely weather today"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !out.CrisisFlag {
		t.Error("screening failure did not fail safe to crisis")
	}
	if out.Response != crisis.SafetyResponse {
		t.Errorf("response = %q, want the safety response", out.Response)
	}
}

func TestIndexUnavailableStillCompletesTurn(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store, engine.WithSearcher(unavailableSearcher{}))

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm so anxious about everything"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.Turn == nil {
		t.Fatal("turn not committed with the index down")
	}
	if out.Response == "" || out.Response == engine.FallbackResponse {
		t.Errorf("index unavailability degraded the whole turn: %q", out.Response)
	}
}

func TestSecondTurnAddsReflection(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)
	ctx := context.Background()

	if _, err := e.ProcessTurn(ctx, input("u1", "s1", "I'm feeling anxious about work")); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	out, err := e.ProcessTurn(ctx, input("u1", "s1", "I don't know what to do about any of it"))
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if out.Turn == nil {
		t.Fatal("second turn not committed")
	}

	var hasReflection bool
	for _, c := range out.Turn.Capabilities {
		if c == core.CapabilityReflection {
			hasReflection = true
		}
	}
	if !hasReflection {
		t.Errorf("second turn capabilities %v missing reflection", out.Turn.Capabilities)
	}
	if out.Phase != core.PhaseUnderstanding {
		t.Errorf("phase = %q, want understanding this early", out.Phase)
	}
}

func TestPhaseNeverRegresses(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)
	ctx := context.Background()

	utterances := []string{
		"I'm anxious about my work deadlines",
		"The work deadlines are making me anxious",
		"Still anxious about work and the deadlines today",
		"Work deadlines still make me feel anxious",
		"I stay anxious about these work deadlines",
		"The deadlines at work keep me anxious all week",
		"Anxious again today, work deadlines everywhere",
		"Work and its deadlines, the anxiety will not let up",
	}

	last := core.PhaseUnderstanding
	for i, u := range utterances {
		out, err := e.ProcessTurn(ctx, input("u1", "s1", u))
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		if out.Phase.Ordinal() < last.Ordinal() {
			t.Fatalf("turn %d regressed from %q to %q", i+1, last, out.Phase)
		}
		last = out.Phase
	}
	if last == core.PhaseUnderstanding {
		t.Error("session never progressed past understanding")
	}
}

func TestCrisisResetsPhase(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)
	ctx := context.Background()

	utterances := []string{
		"I'm anxious about my work deadlines",
		"The work deadlines are making me anxious",
		"Still anxious about work and the deadlines today",
		"Work deadlines still make me feel anxious",
		"I stay anxious about these work deadlines",
	}
	var advanced core.Phase
	for _, u := range utterances {
		out, err := e.ProcessTurn(ctx, input("u1", "s1", u))
		if err != nil {
			t.Fatalf("ProcessTurn(%q): %v", u, err)
		}
		advanced = out.Phase
	}
	if advanced.Ordinal() <= core.PhaseUnderstanding.Ordinal() {
		t.Fatalf("setup never advanced the phase, still %q", advanced)
	}

	out, err := e.ProcessTurn(ctx, input("u1", "s1", "I want to kill myself"))
	if err != nil {
		t.Fatalf("crisis turn: %v", err)
	}
	if out.Phase != core.PhaseUnderstanding {
		t.Errorf("crisis phase = %q, want reset to understanding", out.Phase)
	}
}

func TestAppendFailureYieldsFallbackWithoutCommit(t *testing.T) {
	flaky := &flakySTM{Store: inmem.New(), appendErrs: []error{errors.New("disk gone")}}
	e := engine.New(flaky, flaky.Store)

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm feeling anxious"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.Response != engine.FallbackResponse {
		t.Errorf("response = %q, want the fallback", out.Response)
	}
	if out.Turn != nil {
		t.Error("failed turn still returned a committed record")
	}
	if flaky.appendCalls != 1 {
		t.Errorf("append called %d times, want 1 (no retry on a permanent fault)", flaky.appendCalls)
	}
	if _, err := flaky.Recent(context.Background(), "s1", 10); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Recent err = %v, want ErrNotFound for the untouched session", err)
	}
}

func TestAppendTransientFaultIsRetried(t *testing.T) {
	flaky := &flakySTM{
		Store:      inmem.New(),
		appendErrs: []error{core.Transient("stm.append_pending", errors.New("blip"))},
	}
	e := engine.New(flaky, flaky.Store)

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm feeling anxious"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.Turn == nil {
		t.Fatal("turn not committed after a recovered transient fault")
	}
	if flaky.appendCalls != 2 {
		t.Errorf("append called %d times, want 2", flaky.appendCalls)
	}
}

func TestCommitFailureYieldsFallbackWithoutCommit(t *testing.T) {
	flaky := &flakySTM{Store: inmem.New(), commitErrs: []error{errors.New("disk gone")}}
	e := engine.New(flaky, flaky.Store)

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm feeling anxious"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.Response != engine.FallbackResponse {
		t.Errorf("response = %q, want the fallback", out.Response)
	}
	if out.Turn != nil {
		t.Error("failed turn still returned a committed record")
	}

	recent, err := flaky.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("failed turn reached the committed log: %+v", recent)
	}
}

func TestCommitTransientFaultIsRetried(t *testing.T) {
	flaky := &flakySTM{
		Store:      inmem.New(),
		commitErrs: []error{core.Transient("stm.commit", errors.New("blip"))},
	}
	e := engine.New(flaky, flaky.Store)

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm feeling anxious"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.Turn == nil {
		t.Fatal("turn not committed after a recovered transient fault")
	}
	if flaky.commitCalls != 2 {
		t.Errorf("commit called %d times, want 2", flaky.commitCalls)
	}
}

func TestExecutorTimeoutDropsFragmentNotTurn(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store,
		engine.WithConfig(engine.Config{ExecutorTimeout: 30 * time.Millisecond}),
		engine.WithExecutors(blockingExecutor{capability: core.CapabilityWellness}),
	)

	out, err := e.ProcessTurn(context.Background(), input("u1", "s1", "I'm feeling anxious"))
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out.Turn == nil {
		t.Fatal("turn not committed after an executor timeout")
	}
	if len(out.Turn.Capabilities) != 0 {
		t.Errorf("timed-out executor still credited: %v", out.Turn.Capabilities)
	}
	if out.Response == "" || out.Response == engine.FallbackResponse {
		t.Errorf("turn degraded to failure instead of a fallback draft: %q", out.Response)
	}
}

func TestCanceledCallerAbandonsNonCrisisTurn(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.ProcessTurn(ctx, input("u1", "s1", "I'm feeling anxious"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out != nil {
		t.Errorf("abandoned turn returned output: %+v", out)
	}

	recent, err := store.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("abandoned turn was committed: %+v", recent)
	}
}

func TestTurnsForOneSessionAreSerialized(t *testing.T) {
	store := inmem.New()
	gate := &gateExecutor{capability: core.CapabilityWellness}
	e := engine.New(store, store, engine.WithExecutors(gate))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.ProcessTurn(ctx, input("u1", "s1", "I'm feeling anxious today")); err != nil {
				t.Errorf("ProcessTurn: %v", err)
			}
		}()
	}
	wg.Wait()

	if gate.violated.Load() {
		t.Error("two turns for one session executed concurrently")
	}
	recent, err := store.Recent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 4 {
		t.Errorf("committed %d turns, want 4", len(recent))
	}
}

func TestInvalidInputIsRejected(t *testing.T) {
	store := inmem.New()
	e := engine.New(store, store)

	for _, in := range []*core.TurnInput{
		nil,
		{SessionID: "s1", Utterance: "hello"},
		{UserID: "u1", Utterance: "hello"},
	} {
		if _, err := e.ProcessTurn(context.Background(), in); err == nil {
			t.Errorf("ProcessTurn(%+v) accepted invalid input", in)
		}
	}
}
