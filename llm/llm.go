// Package llm abstracts the inference backend the specialist executors
// phrase their drafts with. The Generator is optional everywhere it is
// consumed: executors keep their deterministic drafts when no generator
// is configured or a call fails, so the turn pipeline never depends on
// a model being reachable.
package llm

import "context"

// Request is one generation call.
type Request struct {
	// System sets the assistant persona and constraints.
	System string

	// Prompt is the user-role content for this call.
	Prompt string

	// MaxTokens bounds the response. Zero uses the backend default.
	MaxTokens int64
}

// Generator produces text for a request. Implementations must honor
// context cancellation; callers bound every call with a timeout.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
