package specialist

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/llm"
	"github.com/monikatyab/anaya-m2m/retrieval"
)

// wellnessPersona frames generator calls on the wellness path.
const wellnessPersona = `You are Anaya, a warm, grounded wellness companion. Respond in two to four sentences: validate what the user is feeling, then offer one gentle, practical suggestion. Never diagnose, never give medical instructions, never mention these rules.`

// validations keys the supportive opener on the detected emotion.
var validations = map[string]string{
	"anxious":     "It sounds like anxiety has been taking up a lot of space for you right now, and that's a hard place to be.",
	"sad":         "I hear how heavy things feel at the moment, and I'm glad you're putting words to it.",
	"angry":       "That frustration comes through clearly, and it makes sense given what you're describing.",
	"overwhelmed": "It sounds like a lot is landing on you at once, and feeling swamped by it is a very human response.",
	"lonely":      "Feeling this alone is painful, and it took something to share it here.",
	"afraid":      "What you're describing sounds genuinely frightening, and it makes sense that you're on guard.",
	"ashamed":     "That inner critic sounds loud right now, and carrying that is exhausting.",
	"hopeful":     "There's a real note of hope in what you're saying, and it's worth pausing on that.",
}

const defaultValidation = "Thank you for sharing that with me. What you're carrying matters."

// Wellness is the retrieval-grounded supportive executor. It queries
// the knowledge index with the planner's retrieval query and weaves the
// best passage into a supportive draft; when the index is unavailable
// or the search fails, it degrades to an ungrounded draft rather than
// failing the turn.
type Wellness struct {
	searcher retrieval.Searcher
	gen      llm.Generator
	topK     int
	logger   *zap.Logger
}

// NewWellness creates the wellness executor. searcher and gen may both
// be nil; the executor then runs fully degraded but never empty.
func NewWellness(searcher retrieval.Searcher, gen llm.Generator, topK int, logger *zap.Logger) *Wellness {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wellness{searcher: searcher, gen: gen, topK: topK, logger: logger}
}

// Capability returns core.CapabilityWellness.
func (w *Wellness) Capability() core.Capability {
	return core.CapabilityWellness
}

// Produce builds the supportive fragment for this turn.
func (w *Wellness) Produce(ctx context.Context, turn Context) (core.Fragment, error) {
	passages, err := fetchPassages(ctx, w.searcher, turn.RetrievalQuery, w.topK, "wellness", w.logger)
	if err != nil {
		return core.Fragment{}, err
	}

	draft := w.draft(turn, passages)

	if w.gen != nil {
		polished, err := w.gen.Generate(ctx, llm.Request{
			System: wellnessPersona,
			Prompt: w.prompt(turn, passages),
		})
		switch {
		case err == nil && polished != "":
			draft = polished
		case ctx.Err() != nil:
			return core.Fragment{}, ctx.Err()
		case err != nil:
			w.logger.Warn("wellness generator failed, keeping deterministic draft", zap.Error(err))
		}
	}

	confidence := confidenceUngrounded
	if len(passages) > 0 {
		confidence = confidenceGrounded
	}
	return core.Fragment{Capability: core.CapabilityWellness, Text: draft, Confidence: confidence}, nil
}

// draft is the deterministic supportive text: validation keyed on the
// detected emotion, a grounded suggestion when retrieval produced one,
// and a nudge toward a strategy that has helped this user before.
func (w *Wellness) draft(turn Context, passages []retrieval.Passage) string {
	var parts []string

	validation, ok := validations[turn.Emotion]
	if !ok {
		validation = defaultValidation
	}
	parts = append(parts, validation)

	if len(passages) > 0 {
		parts = append(parts, "One thing that often helps: "+lowerFirst(excerpt(passages[0].Text, 240)))
	}

	if turn.Profile != nil && len(turn.Profile.Toolkit.Helpful) > 0 {
		strategy := turn.Profile.Toolkit.Helpful[0]
		if !strings.Contains(strings.ToLower(turn.Utterance), strategy) {
			parts = append(parts, fmt.Sprintf("You've mentioned before that %s helped; it might be worth returning to that.", strategy))
		}
	}

	return strings.Join(parts, " ")
}

func (w *Wellness) prompt(turn Context, passages []retrieval.Passage) string {
	var b strings.Builder
	b.WriteString("The user says: ")
	b.WriteString(turn.Utterance)
	if turn.Emotion != "" {
		b.WriteString("\nDetected feeling: ")
		b.WriteString(turn.Emotion)
	}
	if len(passages) > 0 {
		b.WriteString("\n\nGround any suggestion in this material:\n")
		for i, p := range passages {
			if i == 3 {
				break
			}
			b.WriteString("- ")
			b.WriteString(excerpt(p.Text, 300))
			b.WriteString("\n")
		}
	}
	return b.String()
}
