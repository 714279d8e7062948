package lex

import "strings"

// emotionTerms maps a canonical emotion label to the surface terms that
// signal it. First match by utterance order wins ties; label order
// below breaks ties between terms at the same position.
var emotionTerms = []struct {
	label string
	terms []string
}{
	{"anxious", []string{"anxious", "anxiety", "nervous", "worried", "worry", "panic", "panicking", "on edge", "stressed", "stress", "overthinking"}},
	{"sad", []string{"sad", "sadness", "down", "depressed", "depression", "crying", "cried", "grief", "grieving", "heartbroken", "miserable", "empty"}},
	{"angry", []string{"angry", "anger", "furious", "frustrated", "frustration", "irritated", "resentful", "mad at"}},
	{"overwhelmed", []string{"overwhelmed", "overwhelming", "too much", "burned out", "burnout", "exhausted", "drained", "cant cope"}},
	{"lonely", []string{"lonely", "loneliness", "alone", "isolated", "no one to talk"}},
	{"afraid", []string{"afraid", "scared", "fear", "terrified", "dread"}},
	{"ashamed", []string{"ashamed", "shame", "guilty", "guilt", "embarrassed", "worthless", "not good enough"}},
	{"hopeful", []string{"hopeful", "hope", "better", "improving", "proud", "grateful", "relieved", "calmer"}},
}

// EmotionOf returns the canonical emotion label for the term appearing
// earliest in s, or "" when no emotion term matches. Matching is
// case-insensitive and phrase-aware ("too much", "on edge").
func EmotionOf(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	normalized := " " + strings.Join(Tokenize(s), " ") + " "
	best := ""
	bestPos := len(normalized)
	for _, e := range emotionTerms {
		for _, term := range e.terms {
			pos := strings.Index(normalized, " "+term+" ")
			if pos >= 0 && pos < bestPos {
				bestPos = pos
				best = e.label
			}
		}
	}
	return best
}

// copingTerms are the coping-strategy mentions tracked as progress
// signals when they recur across a session.
var copingTerms = []string{
	"breathing", "deep breath", "deep breaths", "box breathing",
	"journaling", "journal", "writing things down",
	"meditation", "meditate", "meditating", "mindfulness",
	"walk", "walking", "run", "running", "exercise", "stretching", "yoga",
	"grounding", "5 4 3 2 1",
	"talked to", "talking to", "reached out", "called a friend",
	"therapy", "therapist", "counselor", "counselling",
	"slept", "sleep schedule", "rest", "took a break",
	"music", "reading", "drawing", "painting",
}

// CopingMentions returns the coping-strategy terms present in s, in
// lexicon order, deduplicated.
func CopingMentions(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	normalized := " " + strings.Join(Tokenize(s), " ") + " "
	var found []string
	for _, term := range copingTerms {
		if strings.Contains(normalized, " "+term+" ") {
			found = append(found, term)
		}
	}
	return found
}
