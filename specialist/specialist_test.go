package specialist_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/llm"
	"github.com/monikatyab/anaya-m2m/memory"
	"github.com/monikatyab/anaya-m2m/retrieval"
	"github.com/monikatyab/anaya-m2m/specialist"
)

// stubSearcher returns queued errors first, then its passages.
type stubSearcher struct {
	passages []retrieval.Passage
	errs     []error
	calls    int
	lastQ    string
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) ([]retrieval.Passage, error) {
	s.calls++
	s.lastQ = query
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.passages, nil
}

type stubGenerator struct {
	reply   string
	err     error
	calls   int
	lastReq llm.Request
}

func (g *stubGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.calls++
	g.lastReq = req
	return g.reply, g.err
}

func TestWellnessGroundedDraft(t *testing.T) {
	searcher := &stubSearcher{passages: []retrieval.Passage{
		{Text: "Box breathing slows the stress response. Inhale for four counts, hold, exhale.", SourceID: "breathing.md", Score: 0.92},
	}}
	w := specialist.NewWellness(searcher, nil, 0, nil)

	frag, err := w.Produce(context.Background(), specialist.Context{
		Utterance:      "I'm so anxious about my exams",
		Emotion:        "anxious",
		RetrievalQuery: "exams anxious",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if frag.Capability != core.CapabilityWellness {
		t.Fatalf("capability = %q", frag.Capability)
	}
	if !strings.Contains(frag.Text, "anxiety has been taking up a lot of space") {
		t.Errorf("missing anxious validation: %q", frag.Text)
	}
	if !strings.Contains(frag.Text, "Box breathing") && !strings.Contains(frag.Text, "box breathing") {
		t.Errorf("missing grounded suggestion: %q", frag.Text)
	}
	if frag.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", frag.Confidence)
	}
}

func TestWellnessDegradesWhenIndexUnavailable(t *testing.T) {
	searcher := &stubSearcher{errs: []error{retrieval.ErrIndexUnavailable}}
	w := specialist.NewWellness(searcher, nil, 0, nil)

	frag, err := w.Produce(context.Background(), specialist.Context{
		Utterance:      "everything feels like too much",
		Emotion:        "overwhelmed",
		RetrievalQuery: "too much overwhelmed",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if frag.Text == "" {
		t.Fatal("degraded fragment must not be empty")
	}
	if frag.Confidence != 0.55 {
		t.Errorf("confidence = %v, want ungrounded 0.55", frag.Confidence)
	}
	if searcher.calls != 1 {
		t.Errorf("index-unavailable should not be retried, got %d calls", searcher.calls)
	}
}

func TestWellnessRetriesTransientSearch(t *testing.T) {
	searcher := &stubSearcher{
		errs:     []error{core.Transient("search", errors.New("conn reset"))},
		passages: []retrieval.Passage{{Text: "Grounding brings attention back to the present.", Score: 0.8}},
	}
	w := specialist.NewWellness(searcher, nil, 0, nil)

	frag, err := w.Produce(context.Background(), specialist.Context{
		Utterance:      "I feel anxious",
		Emotion:        "anxious",
		RetrievalQuery: "anxious",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if searcher.calls != 2 {
		t.Fatalf("transient search should retry once, got %d calls", searcher.calls)
	}
	if frag.Confidence != 0.9 {
		t.Errorf("retry succeeded, confidence = %v, want 0.9", frag.Confidence)
	}
}

func TestWellnessGeneratorPolishAndFallback(t *testing.T) {
	searcher := &stubSearcher{passages: []retrieval.Passage{{Text: "Slow breathing helps."}}}

	gen := &stubGenerator{reply: "That sounds really hard. Maybe try a slow breath with me?"}
	w := specialist.NewWellness(searcher, gen, 0, nil)
	frag, err := w.Produce(context.Background(), specialist.Context{Utterance: "I'm anxious", Emotion: "anxious", RetrievalQuery: "anxious"})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if frag.Text != gen.reply {
		t.Errorf("generator reply not used: %q", frag.Text)
	}
	if !strings.Contains(gen.lastReq.Prompt, "Slow breathing helps.") {
		t.Errorf("prompt should carry retrieved material: %q", gen.lastReq.Prompt)
	}

	// Generator failure keeps the deterministic draft.
	broken := &stubGenerator{err: errors.New("model overloaded")}
	w = specialist.NewWellness(searcher, broken, 0, nil)
	frag, err = w.Produce(context.Background(), specialist.Context{Utterance: "I'm anxious", Emotion: "anxious", RetrievalQuery: "anxious"})
	if err != nil {
		t.Fatalf("Produce after generator failure: %v", err)
	}
	if frag.Text == "" || !strings.Contains(frag.Text, "anxiety") {
		t.Errorf("deterministic draft expected, got %q", frag.Text)
	}
}

func TestWellnessToolkitNudge(t *testing.T) {
	profile := memory.NewProfile("u1")
	profile.Toolkit.Helpful = []string{"journaling"}

	w := specialist.NewWellness(nil, nil, 0, nil)
	frag, err := w.Produce(context.Background(), specialist.Context{
		Utterance: "feeling really down today",
		Emotion:   "sad",
		Profile:   profile,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !strings.Contains(frag.Text, "journaling") {
		t.Errorf("expected toolkit nudge, got %q", frag.Text)
	}
}

func TestWellnessPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	searcher := &stubSearcher{errs: []error{ctx.Err()}}
	w := specialist.NewWellness(searcher, nil, 0, nil)

	_, err := w.Produce(ctx, specialist.Context{Utterance: "hey", RetrievalQuery: "hey"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestReflectionFindsPatterns(t *testing.T) {
	r := specialist.NewReflection(nil)
	window := []core.Turn{
		{Utterance: "work has been brutal, I'm anxious all the time", DetectedEmotion: "anxious"},
		{Utterance: "another rough day at work", DetectedEmotion: "anxious"},
	}

	frag, err := r.Produce(context.Background(), specialist.Context{
		Utterance: "work again, same story",
		Emotion:   "anxious",
		Window:    window,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !strings.Contains(frag.Text, "work") {
		t.Errorf("expected recurring theme in reflection, got %q", frag.Text)
	}
	if !strings.Contains(frag.Text, "anxious") {
		t.Errorf("expected dominant emotion in reflection, got %q", frag.Text)
	}
	if frag.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", frag.Confidence)
	}
}

func TestReflectionEmptyWhenNothingDiscernible(t *testing.T) {
	r := specialist.NewReflection(nil)

	frag, err := r.Produce(context.Background(), specialist.Context{Utterance: "hi"})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if frag.Text != "" {
		t.Errorf("empty window should yield empty fragment, got %q", frag.Text)
	}
	if frag.Capability != core.CapabilityReflection {
		t.Errorf("capability = %q", frag.Capability)
	}
}

func TestReflectionNoticesProgress(t *testing.T) {
	r := specialist.NewReflection(nil)
	window := []core.Turn{
		{Utterance: "tried journaling last night like we discussed"},
		{Utterance: "did some journaling again this morning and it helped"},
	}

	frag, err := r.Produce(context.Background(), specialist.Context{
		Utterance: "still shaky but trying",
		Window:    window,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !strings.Contains(frag.Text, "journaling") {
		t.Errorf("expected progress signal in reflection, got %q", frag.Text)
	}
}

func TestFactualGroundedAnswer(t *testing.T) {
	searcher := &stubSearcher{passages: []retrieval.Passage{
		{Text: "Box breathing is a four-count breath cycle used to calm the nervous system.", SourceID: "breathing.md", Score: 0.9},
	}}
	f := specialist.NewFactual(searcher, nil, 0, nil)

	frag, err := f.Produce(context.Background(), specialist.Context{
		Utterance: "I'm nervous all day. What is box breathing?",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !strings.Contains(frag.Text, "four-count breath cycle") {
		t.Errorf("expected grounded answer, got %q", frag.Text)
	}
	if frag.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", frag.Confidence)
	}
	if strings.Contains(searcher.lastQ, "nervous") {
		t.Errorf("factual query should come from the question, not the emotional part: %q", searcher.lastQ)
	}
}

func TestFactualHonestWhenUngrounded(t *testing.T) {
	f := specialist.NewFactual(nil, nil, 0, nil)

	frag, err := f.Produce(context.Background(), specialist.Context{
		Utterance: "what's the half-life of sertraline?",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !strings.Contains(frag.Text, "don't have solid information") {
		t.Errorf("expected honest no-answer, got %q", frag.Text)
	}
	if frag.Confidence != 0.35 {
		t.Errorf("confidence = %v, want 0.35", frag.Confidence)
	}
}

func TestFactualGeneratorAnswersUngrounded(t *testing.T) {
	gen := &stubGenerator{reply: "Sleep hygiene means consistent habits that make sleep easier, like fixed wake times."}
	f := specialist.NewFactual(nil, gen, 0, nil)

	frag, err := f.Produce(context.Background(), specialist.Context{
		Utterance: "what does sleep hygiene mean?",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if frag.Text != gen.reply {
		t.Errorf("expected generator answer, got %q", frag.Text)
	}
	if frag.Confidence != 0.55 {
		t.Errorf("confidence = %v, want 0.55", frag.Confidence)
	}
}

func TestFactualEmptyWithoutQuestion(t *testing.T) {
	f := specialist.NewFactual(nil, nil, 0, nil)

	frag, err := f.Produce(context.Background(), specialist.Context{
		Utterance: "just tired of everything lately",
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if frag.Text != "" {
		t.Errorf("no question should yield empty fragment, got %q", frag.Text)
	}
}
