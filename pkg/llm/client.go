// Package llm provides the text-generation client used by the
// synthesizer. The engine only ever needs one call shape: a system
// prompt, a user prompt, and sampling bounds.
package llm

import "context"

// Client generates text. Implementations must honor ctx cancellation.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// GenerateFunc adapts a plain function to the Client interface.
type GenerateFunc func(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)

func (f GenerateFunc) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	return f(ctx, systemPrompt, userPrompt, maxTokens, temperature)
}
