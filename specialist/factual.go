package specialist

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/lex"
	"github.com/monikatyab/anaya-m2m/llm"
	"github.com/monikatyab/anaya-m2m/retrieval"
)

const factualPersona = `You are Anaya answering the informational part of a message. Answer in one to three plain sentences. If the provided material does not cover the question, say you don't have reliable information rather than guessing. Never diagnose or give medical instructions.`

// Factual answers the informational part of an utterance. It grounds
// the answer in retrieved passages when the index has something
// relevant and says so honestly when it does not; it never blocks the
// supportive path.
type Factual struct {
	searcher retrieval.Searcher
	gen      llm.Generator
	topK     int
	logger   *zap.Logger
}

// NewFactual creates the factual executor. searcher and gen may be nil.
func NewFactual(searcher retrieval.Searcher, gen llm.Generator, topK int, logger *zap.Logger) *Factual {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factual{searcher: searcher, gen: gen, topK: topK, logger: logger}
}

// Capability returns core.CapabilityFactual.
func (f *Factual) Capability() core.Capability {
	return core.CapabilityFactual
}

// Produce answers the utterance's question. The search query comes from
// the question itself, not the planner's wellness-flavored retrieval
// query, so mixed utterances don't drag emotional terms into the
// lookup.
func (f *Factual) Produce(ctx context.Context, turn Context) (core.Fragment, error) {
	question := extractQuestion(turn.Utterance)
	if question == "" {
		return core.Fragment{Capability: core.CapabilityFactual}, nil
	}

	query := strings.Join(lex.ContentWords(question), " ")
	if query == "" {
		query = question
	}
	passages, err := fetchPassages(ctx, f.searcher, query, f.topK, "factual", f.logger)
	if err != nil {
		return core.Fragment{}, err
	}

	if len(passages) > 0 {
		answer := "On the question you asked: " + lowerFirst(excerpt(passages[0].Text, 280))
		if f.gen != nil {
			polished, genErr := f.gen.Generate(ctx, llm.Request{
				System: factualPersona,
				Prompt: f.prompt(question, passages),
			})
			switch {
			case genErr == nil && polished != "":
				answer = polished
			case ctx.Err() != nil:
				return core.Fragment{}, ctx.Err()
			case genErr != nil:
				f.logger.Warn("factual generator failed, keeping excerpt answer", zap.Error(genErr))
			}
		}
		return core.Fragment{Capability: core.CapabilityFactual, Text: answer, Confidence: confidenceGrounded}, nil
	}

	// Nothing retrieved. A generator may still answer from general
	// knowledge; without one, say plainly that we don't know.
	if f.gen != nil {
		answer, genErr := f.gen.Generate(ctx, llm.Request{
			System: factualPersona,
			Prompt: f.prompt(question, nil),
		})
		if genErr == nil && answer != "" {
			return core.Fragment{Capability: core.CapabilityFactual, Text: answer, Confidence: confidenceUngrounded}, nil
		}
		if ctx.Err() != nil {
			return core.Fragment{}, ctx.Err()
		}
		if genErr != nil {
			f.logger.Warn("factual generator failed, degrading to no-answer", zap.Error(genErr))
		}
	}
	return core.Fragment{
		Capability: core.CapabilityFactual,
		Text:       "I don't have solid information on that, and I'd rather not guess. A trusted source or professional would give you a better answer there.",
		Confidence: confidenceNoAnswer,
	}, nil
}

func (f *Factual) prompt(question string, passages []retrieval.Passage) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	if len(passages) > 0 {
		b.WriteString("\n\nAnswer from this material:\n")
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

// extractQuestion pulls the question portion out of a mixed utterance:
// the first sentence ending in '?', or the whole utterance when it
// reads as a question without one.
func extractQuestion(utterance string) string {
	rest := utterance
	for {
		i := strings.IndexByte(rest, '?')
		if i < 0 {
			break
		}
		start := sentenceStart(rest[:i])
		q := strings.TrimSpace(rest[start : i+1])
		if q != "" {
			return q
		}
		rest = rest[i+1:]
	}
	if lex.QuestionLike(utterance) {
		return strings.TrimSpace(utterance)
	}
	return ""
}

// sentenceStart returns the index just past the last sentence
// terminator in s, or 0.
func sentenceStart(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return 0
}
