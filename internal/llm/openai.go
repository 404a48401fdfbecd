package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/internal/stream"
	"github.com/guardrail-ai/llm-gateway/internal/tokencount"
)

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client *openai.Client

	// counter estimates usage for streamed responses; the OpenAI streaming
	// API does not report token counts.
	counter *tokencount.Counter
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIClient{
		client:  openai.NewClient(apiKey),
		counter: tokencount.NewCounter(tokencount.NewTiktokenTokenizer()),
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}
}

func (c *OpenAIClient) chatRequest(req *CompletionRequest, streaming bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Stream:      streaming,
	}
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.chatRequest(req, false))
	if err != nil {
		return nil, err
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// StreamSource returns a bridge source for a streaming completion.
func (c *OpenAIClient) StreamSource(req *CompletionRequest) stream.Source {
	return func(ctx context.Context, yield func(stream.Chunk) error) error {
		chatReq := c.chatRequest(req, true)

		s, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return err
		}
		defer s.Close()

		var content, stopReason string

		for {
			response, err := s.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}

			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta.Content
			if delta != "" {
				content += delta
				if err := yield(stream.Chunk{Delta: delta}); err != nil {
					return err
				}
			}
			if response.Choices[0].FinishReason != "" {
				stopReason = string(response.Choices[0].FinishReason)
			}
		}

		// The streaming API carries no usage block; estimate from the
		// request and accumulated content with the local tokenizer.
		tokensIn := 0
		for _, m := range req.Messages {
			tokensIn += c.counter.CountTokens(m.Content, chatReq.Model)
		}
		tokensOut := c.counter.CountTokens(content, chatReq.Model)

		return yield(stream.Chunk{
			Metadata: map[string]any{
				MetaUsage: model.TokenUsage{
					PromptTokens:     tokensIn,
					CompletionTokens: tokensOut,
					TotalTokens:      tokensIn + tokensOut,
				},
				MetaStopReason: stopReason,
				MetaModel:      chatReq.Model,
			},
		})
	}
}
