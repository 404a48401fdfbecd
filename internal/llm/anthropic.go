package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/internal/stream"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}
}

func messageParams(req *CompletionRequest) (anthropic.MessageNewParams, string) {
	modelName := req.Model
	if modelName == "" {
		modelName = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.F(modelName),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}, modelName
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	params, _ := messageParams(req)
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// StreamSource returns a bridge source for a streaming completion.
func (c *AnthropicClient) StreamSource(req *CompletionRequest) stream.Source {
	return func(ctx context.Context, yield func(stream.Chunk) error) error {
		params, modelName := messageParams(req)
		s := c.client.Messages.NewStreaming(ctx, params)

		var tokensIn, tokensOut int
		var stopReason string

		message := s.Current()

		for s.Next() {
			ev := s.Current()

			switch ev.Type {
			case anthropic.MessageStreamEventTypeContentBlockDelta:
				if delta, ok := ev.Delta.(anthropic.ContentBlockDeltaEventDelta); ok {
					if delta.Type == "text_delta" && delta.Text != "" {
						if err := yield(stream.Chunk{Delta: delta.Text}); err != nil {
							return err
						}
					}
				}
			case anthropic.MessageStreamEventTypeMessageDelta:
				if delta, ok := ev.Delta.(anthropic.MessageDeltaEventDelta); ok {
					stopReason = string(delta.StopReason)
				}
				tokensOut = int(ev.Usage.OutputTokens)
			}
		}

		if err := s.Err(); err != nil {
			return err
		}

		tokensIn = int(message.Message.Usage.InputTokens)

		return yield(stream.Chunk{
			Metadata: map[string]any{
				MetaUsage: model.TokenUsage{
					PromptTokens:     tokensIn,
					CompletionTokens: tokensOut,
					TotalTokens:      tokensIn + tokensOut,
				},
				MetaStopReason: stopReason,
				MetaModel:      modelName,
			},
		})
	}
}
