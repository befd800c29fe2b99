// Package llm defines the Provider interface for text completion backends.
//
// The voice loop sends one self-contained prompt per utterance (preamble,
// speaker tag, transcript, start sequence) and reads back raw generated text.
// There is no chat history and no tool calling; the provider only has to
// honour the fixed generation parameters.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated.
	CompletionTokens int

	// TotalTokens is the billed total. Some providers report it directly
	// rather than as the sum of the parts.
	TotalTokens int
}

// CompletionRequest carries a prompt and its generation parameters.
type CompletionRequest struct {
	// Prompt is the full text the model continues.
	Prompt string

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// FrequencyPenalty in [-2.0, 2.0] penalises tokens by how often they
	// already appeared. Providers without support ignore it.
	FrequencyPenalty float64

	// PresencePenalty in [-2.0, 2.0] penalises tokens that appeared at all.
	// Providers without support ignore it.
	PresencePenalty float64

	// MaxTokens caps the number of generated tokens. Zero means the provider
	// default.
	MaxTokens int
}

// CompletionResponse is the generated continuation.
type CompletionResponse struct {
	// Text is the raw generated text, untrimmed.
	Text string

	// FinishReason is why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage reports token consumption for this request.
	Usage Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends the prompt and blocks until the full response arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
