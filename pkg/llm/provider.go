package llm

import "context"

// Provider defines the interface for interacting with generation backends.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing. Progress reporting to
// clients happens at the orchestration layer, so a single blocking Complete
// call is the whole contract.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
