package specialist

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/memory"
)

// Reflection mirrors discernible patterns back from the short-term
// window alone: recurring topics, the emotional throughline, and coping
// strategies the user has returned to. No retrieval, no inference.
// When the window shows nothing worth reflecting, the fragment is empty
// and the synthesizer drops it.
type Reflection struct {
	logger *zap.Logger
}

// NewReflection creates the reflection executor.
func NewReflection(logger *zap.Logger) *Reflection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflection{logger: logger}
}

// Capability returns core.CapabilityReflection.
func (r *Reflection) Capability() core.Capability {
	return core.CapabilityReflection
}

// Produce summarizes the window's patterns. The current utterance is
// included in the analysis so a theme continued right now still counts
// as recurring.
func (r *Reflection) Produce(ctx context.Context, turn Context) (core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return core.Fragment{}, err
	}
	if len(turn.Window) == 0 {
		return core.Fragment{Capability: core.CapabilityReflection}, nil
	}

	turns := append(append([]core.Turn(nil), turn.Window...), core.Turn{
		Utterance:       turn.Utterance,
		DetectedEmotion: turn.Emotion,
	})
	insights := memory.AnalyzeSession(turns)

	var parts []string
	switch {
	case len(insights.RecurringThemes) > 0 && len(insights.DominantEmotions) > 0:
		parts = append(parts, fmt.Sprintf("I notice %s keeps coming up for you, often alongside feeling %s.",
			insights.RecurringThemes[0], insights.DominantEmotions[0]))
	case len(insights.RecurringThemes) > 0:
		parts = append(parts, fmt.Sprintf("I notice %s keeps coming up in what you're sharing.",
			insights.RecurringThemes[0]))
	case len(insights.DominantEmotions) > 0:
		parts = append(parts, fmt.Sprintf("Through our last few messages, feeling %s has been a steady thread.",
			insights.DominantEmotions[0]))
	}

	if len(insights.ProgressSignals) > 0 {
		parts = append(parts, fmt.Sprintf("You've also come back to %s more than once. That's real effort, and it seems to be doing something for you.",
			insights.ProgressSignals[0]))
	}

	if len(parts) == 0 {
		return core.Fragment{Capability: core.CapabilityReflection}, nil
	}
	return core.Fragment{
		Capability: core.CapabilityReflection,
		Text:       strings.Join(parts, " "),
		Confidence: confidencePatterns,
	}, nil
}
