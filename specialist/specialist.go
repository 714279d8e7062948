// Package specialist implements the closed set of response capabilities
// the planner can invoke: wellness (retrieval-grounded support),
// reflection (patterns from the recent window), and factual (direct
// answers). Each executor produces one Fragment from the shared turn
// context and never writes anywhere else, so executors for the same
// turn can run concurrently.
//
// New capabilities are added by extending this set and core.Capability;
// there is no runtime registration.
package specialist

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/memory"
	"github.com/monikatyab/anaya-m2m/retrieval"
)

// Context is the read-only turn context every executor sees.
type Context struct {
	// Utterance is the current user input.
	Utterance string

	// Emotion is the planner's emotional read of the utterance.
	Emotion string

	// Intent is the planner's intent label.
	Intent string

	// Window holds the session's recent committed turns, most recent
	// last.
	Window []core.Turn

	// Profile is the user's long-term profile; may be empty, never
	// consulted for anything load-bearing.
	Profile *memory.UserProfile

	// RetrievalQuery is the planner-derived query for grounded
	// executors. Empty when the plan did not include wellness.
	RetrievalQuery string
}

// Executor produces one capability's fragment for a turn. Executors
// degrade internally on backend trouble; an error return means the
// context was cancelled or the executor is unusable this turn.
type Executor interface {
	Capability() core.Capability
	Produce(ctx context.Context, turn Context) (core.Fragment, error)
}

// Fragment confidence levels. Grounded fragments cite retrieved
// passages; degraded ones fall back to deterministic drafts.
const (
	confidenceGrounded   = 0.9
	confidenceUngrounded = 0.55
	confidencePatterns   = 0.7
	confidenceNoAnswer   = 0.35
)

// fetchPassages runs a search, retrying once on a transient fault and
// treating every other failure as "no passages" so grounded executors
// degrade instead of failing the turn. Only cancellation propagates.
func fetchPassages(ctx context.Context, s retrieval.Searcher, query string, topK int, op string, logger *zap.Logger) ([]retrieval.Passage, error) {
	if s == nil || query == "" {
		return nil, nil
	}
	passages, err := s.Search(ctx, query, topK)
	if err != nil && core.IsTransient(err) && ctx.Err() == nil {
		passages, err = s.Search(ctx, query, topK)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, retrieval.ErrIndexUnavailable) {
			logger.Debug("no knowledge index, running ungrounded", zap.String("op", op))
		} else {
			logger.Warn("retrieval failed, running ungrounded", zap.String("op", op), zap.Error(err))
		}
		return nil, nil
	}
	return passages, nil
}

// excerpt condenses passage text to its leading sentences, capped at
// maxRunes, cutting on a word boundary.
func excerpt(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if end := sentenceEnd(text); end > 0 && end < len(text) && end <= maxRunes*2 {
		text = text[:end]
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return strings.TrimSpace(text)
	}
	cut := maxRunes
	for cut > maxRunes/2 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}

// sentenceEnd returns the index just past the first sentence terminator
// followed by a space, or -1.
func sentenceEnd(text string) int {
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return -1
}

// lowerFirst makes a phrase splice mid-sentence.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
