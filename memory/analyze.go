package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/lex"
)

// Caps keep profiles readable: a session contributes at most this many
// emotion and theme markers.
const (
	maxSessionEmotions = 3
	maxSessionThemes   = 5
)

// SessionInsights is what the analysis step extracts from a closed
// session before merging it into the user's profile.
type SessionInsights struct {
	// DominantEmotions orders the session's emotions by how many turns
	// carried them.
	DominantEmotions []string

	// RecurringThemes are content words appearing in at least two
	// distinct turns.
	RecurringThemes []string

	// ProgressSignals are coping strategies mentioned in one turn and
	// reused in a later one.
	ProgressSignals []string

	// CopingMentioned lists every coping strategy the session touched,
	// recurring or not.
	CopingMentioned []string

	// Summary is the one-line journey note for the session.
	Summary string
}

// counter tallies labels while preserving first-seen order, so results
// stay deterministic regardless of map iteration.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(label string) {
	if label == "" {
		return
	}
	if _, seen := c.counts[label]; !seen {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

// ranked returns labels with count >= min, ordered by count descending
// and first-seen on ties, capped at max (0 means no cap).
func (c *counter) ranked(min, max int) []string {
	labels := append([]string(nil), c.order...)
	sort.SliceStable(labels, func(i, j int) bool {
		return c.counts[labels[i]] > c.counts[labels[j]]
	})
	var out []string
	for _, l := range labels {
		if c.counts[l] < min {
			continue
		}
		out = append(out, l)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// AnalyzeSession derives insights from a closed session's committed
// turns. Pure and deterministic: identical turn sequences produce
// identical insights.
func AnalyzeSession(turns []core.Turn) SessionInsights {
	emotions := newCounter()
	themes := newCounter()
	coping := newCounter()
	crisisSeen := false

	for _, turn := range turns {
		if turn.CrisisFlag {
			crisisSeen = true
		}

		emotion := turn.DetectedEmotion
		if emotion == "" {
			emotion = lex.EmotionOf(turn.Utterance)
		}
		emotions.add(emotion)

		// Each word counts once per turn so recurrence means
		// "appeared across turns", not "repeated in one". Emotion
		// terms are tracked separately and kept out of themes.
		seen := make(map[string]bool)
		for _, word := range lex.ContentWords(turn.Utterance) {
			if seen[word] || lex.EmotionOf(word) != "" {
				continue
			}
			seen[word] = true
			themes.add(word)
		}

		seenCoping := make(map[string]bool)
		for _, term := range lex.CopingMentions(turn.Utterance) {
			if !seenCoping[term] {
				seenCoping[term] = true
				coping.add(term)
			}
		}
	}

	insights := SessionInsights{
		DominantEmotions: emotions.ranked(1, maxSessionEmotions),
		RecurringThemes:  themes.ranked(2, maxSessionThemes),
		ProgressSignals:  coping.ranked(2, 0),
		CopingMentioned:  coping.ranked(1, 0),
	}
	insights.Summary = summarize(insights, crisisSeen, len(turns))
	return insights
}

func summarize(in SessionInsights, crisisSeen bool, turnCount int) string {
	switch {
	case crisisSeen:
		return "reached out in crisis; safety resources were shared"
	case len(in.RecurringThemes) > 0 && len(in.DominantEmotions) > 0:
		return fmt.Sprintf("talked about %s while feeling %s", in.RecurringThemes[0], in.DominantEmotions[0])
	case len(in.DominantEmotions) > 0:
		return fmt.Sprintf("checked in feeling %s", in.DominantEmotions[0])
	case len(in.RecurringThemes) > 0:
		return fmt.Sprintf("talked about %s", in.RecurringThemes[0])
	default:
		return fmt.Sprintf("brief check-in (%d turns)", turnCount)
	}
}

// ApplyInsights merges a session's insights into the profile. A
// session already present in p.Sessions is skipped entirely, which is
// what makes long-term updates idempotent. Markers only append or
// increment; nothing is removed.
func ApplyInsights(p *UserProfile, sessionID string, in SessionInsights, at time.Time) {
	if sessionID == "" || p.HasSession(sessionID) {
		return
	}
	p.Sessions = append(p.Sessions, sessionID)

	for _, e := range in.DominantEmotions {
		p.DominantEmotions = bumpMarker(p.DominantEmotions, e, sessionID)
	}
	for _, t := range in.RecurringThemes {
		p.RecurringThemes = bumpMarker(p.RecurringThemes, t, sessionID)
	}
	for _, s := range in.ProgressSignals {
		p.ProgressMarkers = bumpMarker(p.ProgressMarkers, s, sessionID)
	}
	for _, c := range in.CopingMentioned {
		p.Toolkit.Helpful = appendUnique(p.Toolkit.Helpful, c)
	}

	p.Journey = append(p.Journey, JourneyEntry{
		Date:      at.UTC().Format("2006-01-02"),
		Note:      in.Summary,
		SessionID: sessionID,
	})
	if at.After(p.UpdatedAt) {
		p.UpdatedAt = at
	}
}

// MergeSession analyzes turns and applies the result to p. Empty turn
// sequences are a no-op. The session id is taken from the turns.
func MergeSession(p *UserProfile, turns []core.Turn, at time.Time) {
	if len(turns) == 0 {
		return
	}
	ApplyInsights(p, turns[0].SessionID, AnalyzeSession(turns), at)
}
