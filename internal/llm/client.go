// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"

	"github.com/guardrail-ai/llm-gateway/internal/stream"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a non-streaming completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Metadata keys carried by the final chunk of a stream source.
const (
	MetaUsage      = "usage"
	MetaStopReason = "stop_reason"
	MetaModel      = "model"
)

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// StreamSource returns a stream source for the request, suitable for
	// driving through a stream.Bridge. The source yields one chunk per text
	// delta and a final chunk whose metadata carries usage, stop reason and
	// model under the Meta* keys.
	StreamSource(req *CompletionRequest) stream.Source

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
