package provider

import (
	"context"
)

// Request is a single-turn generation request
type Request struct {
	System string
	Prompt string
	// Temperature is sent whenever set, zero included; nil keeps the
	// model default.
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer for Request.Temperature
func Temperature(v float64) *float64 {
	return &v
}

// Response is the generated text and token usage
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Cached           bool
}

// Provider is the interface that all LLM backends must implement
type Provider interface {
	// Generate runs one completion
	Generate(ctx context.Context, req Request) (*Response, error)

	// Embed returns the embedding vector for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name
	Name() string

	// Model returns the generation model identifier
	Model() string
}

// Embedder is the subset of Provider used by the knowledge base
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
