package interfaces

import (
	"context"
)

// LLMMode identifies the provider behind the LLM service.
type LLMMode string

const (
	LLMModeGemini LLMMode = "gemini"
	LLMModeClaude LLMMode = "claude"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// LLMService defines the language model operations the pipeline depends on:
// embedding generation and schema-constrained structured completions. Any
// conforming provider can be substituted behind this interface.
type LLMService interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// GenerateStructured produces a JSON document conforming to the given
	// JSON schema from the conversation. The raw JSON is returned for
	// validation by the caller.
	GenerateStructured(ctx context.Context, messages []Message, schema map[string]interface{}) ([]byte, error)

	// GetMode returns the provider identity behind this service.
	GetMode() LLMMode

	// Close releases provider resources.
	Close() error
}
