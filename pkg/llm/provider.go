package llm

import (
	"context"
	"errors"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)

	// Stream sends a chat completion request and returns a channel of incremental deltas.
	// Providers without streaming support return ErrStreamingUnsupported.
	Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan Delta, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Provider failures that callers classify for the user.
var (
	ErrStreamingUnsupported = errors.New("llm: streaming not supported")
	ErrContextLength        = errors.New("llm: context length exceeded")
	ErrContentFilter        = errors.New("llm: content filtered")
	ErrToolFailed           = errors.New("llm: tool use failed")
)
