package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/internal/fault"
	"github.com/guardrail-ai/llm-gateway/internal/llm"
	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/internal/ratelimit"
	"github.com/guardrail-ai/llm-gateway/internal/stream"
	"github.com/guardrail-ai/llm-gateway/internal/tokencount"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
)

type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text, _ string) int {
	return len(strings.Fields(text))
}

// fakeLLM streams a fixed set of deltas, or fails mid-stream.
type fakeLLM struct {
	mu     sync.Mutex
	deltas []string
	usage  model.TokenUsage
	err    error
	calls  int
}

func (f *fakeLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) StreamSource(*llm.CompletionRequest) stream.Source {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return func(_ context.Context, yield func(stream.Chunk) error) error {
		for _, d := range f.deltas {
			if err := yield(stream.Chunk{Delta: d}); err != nil {
				return err
			}
		}
		if f.err != nil {
			return f.err
		}
		return yield(stream.Chunk{Metadata: map[string]any{
			llm.MetaUsage:      f.usage,
			llm.MetaStopReason: "stop",
			llm.MetaModel:      "test-model",
		}})
	}
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Models() []string { return []string{"test-model"} }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func defaultChatConfig() ChatConfig {
	return ChatConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		RateLimit:        ratelimit.Config{RequestsPerMinute: 600, BurstSize: 100},
		MaxContextTokens: 10000,
		ReserveTokens:    100,
		DefaultModel:     "test-model",
	}
}

func newTestChat(t *testing.T, client llm.Client, cfg ChatConfig) (*ChatService, *ConversationService, *event.Bus, string) {
	t.Helper()

	log, err := logger.New("error")
	require.NoError(t, err)

	bus := event.NewBus(log)
	convSvc := NewConversationService(log)
	conv, err := convSvc.Create(context.Background(), "tenant-1", "user-1", &model.CreateConversationRequest{Title: "test"})
	require.NoError(t, err)

	counter := tokencount.NewCounter(wordTokenizer{})
	chatSvc := NewChatService(convSvc, client, bus, counter, cfg, log)
	return chatSvc, convSvc, bus, conv.ID
}

func TestSendWithStreamSuccess(t *testing.T) {
	client := &fakeLLM{
		deltas: []string{"Hello", " ", "world"},
		usage:  model.TokenUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}
	chatSvc, convSvc, bus, convID := newTestChat(t, client, defaultChatConfig())

	var types []string
	bus.SubscribeAll(event.ObserverFunc(func(ev event.DomainEvent) {
		types = append(types, ev.Type)
	}))

	var tokens []string
	var indexes []int
	userMsg, assistantMsg, err := chatSvc.SendWithStream(
		context.Background(), "tenant-1", convID,
		&model.SendMessageRequest{Content: "hi there"},
		func(token string, index int) error {
			tokens = append(tokens, token)
			indexes = append(indexes, index)
			return nil
		},
	)
	require.NoError(t, err)

	require.NotNil(t, userMsg)
	assert.Equal(t, "hi there", userMsg.Content)
	assert.Equal(t, model.RoleUser, userMsg.Role)

	require.NotNil(t, assistantMsg)
	assert.Equal(t, "Hello world", assistantMsg.Content)
	require.NotNil(t, assistantMsg.TokensIn)
	assert.Equal(t, 10, *assistantMsg.TokensIn)
	require.NotNil(t, assistantMsg.TokensOut)
	assert.Equal(t, 3, *assistantMsg.TokensOut)
	require.NotNil(t, assistantMsg.StopReason)
	assert.Equal(t, "stop", *assistantMsg.StopReason)

	assert.Equal(t, []string{"Hello", " ", "world"}, tokens)
	assert.Equal(t, []int{0, 1, 2}, indexes)

	assert.Equal(t, []string{
		event.MessageStarted,
		event.TokenGenerated,
		event.TokenGenerated,
		event.TokenGenerated,
		event.MessageCompleted,
	}, types)

	history, err := convSvc.Messages(context.Background(), "tenant-1", convID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
}

func TestSendWithStreamRateLimited(t *testing.T) {
	client := &fakeLLM{deltas: []string{"ok"}}
	cfg := defaultChatConfig()
	cfg.RateLimit = ratelimit.Config{RequestsPerMinute: 1, BurstSize: 2}
	chatSvc, convSvc, _, convID := newTestChat(t, client, cfg)

	for i := 0; i < 2; i++ {
		_, _, err := chatSvc.SendWithStream(
			context.Background(), "tenant-1", convID,
			&model.SendMessageRequest{Content: "hi"}, nil,
		)
		require.NoError(t, err)
	}

	_, _, err := chatSvc.SendWithStream(
		context.Background(), "tenant-1", convID,
		&model.SendMessageRequest{Content: "hi"}, nil,
	)
	require.True(t, fault.IsKind(err, fault.KindRateLimited))
	assert.Greater(t, fault.RetryAfter(err), time.Duration(0))

	// The throttled request left no trace in the conversation.
	history, herr := convSvc.Messages(context.Background(), "tenant-1", convID)
	require.NoError(t, herr)
	assert.Len(t, history, 4)
}

func TestSendWithStreamBreakerOpens(t *testing.T) {
	client := &fakeLLM{
		deltas: []string{"par"},
		err:    errors.New("connection reset"),
	}
	cfg := defaultChatConfig()
	cfg.FailureThreshold = 2
	chatSvc, _, _, convID := newTestChat(t, client, cfg)

	for i := 0; i < 2; i++ {
		userMsg, assistantMsg, err := chatSvc.SendWithStream(
			context.Background(), "tenant-1", convID,
			&model.SendMessageRequest{Content: "hi"}, nil,
		)
		require.True(t, fault.IsKind(err, fault.KindUpstream))
		assert.NotNil(t, userMsg, "the user message is recorded before the stream fails")
		assert.Nil(t, assistantMsg)
	}
	require.Equal(t, 2, client.callCount())

	_, _, err := chatSvc.SendWithStream(
		context.Background(), "tenant-1", convID,
		&model.SendMessageRequest{Content: "hi"}, nil,
	)
	require.True(t, fault.IsKind(err, fault.KindCircuitOpen))
	assert.Equal(t, 2, client.callCount(), "rejected request never reaches the provider")

	status := chatSvc.Status(convID)
	assert.Equal(t, "open", status.CircuitState)
	assert.Equal(t, 2, status.FailureCount)
}

func TestSendWithStreamEmitsTruncation(t *testing.T) {
	client := &fakeLLM{deltas: []string{"ok"}}
	cfg := defaultChatConfig()
	cfg.MaxContextTokens = 30
	cfg.ReserveTokens = 5
	chatSvc, convSvc, bus, convID := newTestChat(t, client, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, convSvc.AppendMessage(context.Background(), model.Message{
			ID:             "seed",
			ConversationID: convID,
			TenantID:       "tenant-1",
			Role:           model.RoleUser,
			Content:        "some earlier message content",
		}))
	}

	var truncated []event.DomainEvent
	bus.Subscribe(event.ContextTruncated, event.ObserverFunc(func(ev event.DomainEvent) {
		truncated = append(truncated, ev)
	}))

	_, _, err := chatSvc.SendWithStream(
		context.Background(), "tenant-1", convID,
		&model.SendMessageRequest{Content: "latest"}, nil,
	)
	require.NoError(t, err)

	require.Len(t, truncated, 1)
	assert.Equal(t, convID, truncated[0].ConversationID)
	dropped, ok := truncated[0].Payload["dropped"].(int)
	require.True(t, ok)
	assert.Greater(t, dropped, 0)
}

func TestSendWithStreamCallbackError(t *testing.T) {
	client := &fakeLLM{
		deltas: []string{"a", "b", "c"},
		usage:  model.TokenUsage{PromptTokens: 1, CompletionTokens: 3, TotalTokens: 4},
	}
	chatSvc, _, _, convID := newTestChat(t, client, defaultChatConfig())

	clientGone := errors.New("client disconnected")
	userMsg, assistantMsg, err := chatSvc.SendWithStream(
		context.Background(), "tenant-1", convID,
		&model.SendMessageRequest{Content: "hi"},
		func(token string, index int) error {
			if index >= 1 {
				return clientGone
			}
			return nil
		},
	)

	// Delivery failed but the exchange itself succeeded: both messages are
	// recorded and the error is surfaced to the caller.
	require.ErrorIs(t, err, clientGone)
	assert.NotNil(t, userMsg)
	require.NotNil(t, assistantMsg)
	assert.Equal(t, "abc", assistantMsg.Content)
}

func TestSendWithStreamUnknownConversation(t *testing.T) {
	client := &fakeLLM{deltas: []string{"ok"}}
	chatSvc, _, _, _ := newTestChat(t, client, defaultChatConfig())

	_, _, err := chatSvc.SendWithStream(
		context.Background(), "tenant-1", "missing",
		&model.SendMessageRequest{Content: "hi"}, nil,
	)
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestSendWithStreamConcurrentSameConversation(t *testing.T) {
	deltas := make([]string, 20)
	for i := range deltas {
		deltas[i] = "x"
	}
	client := &fakeLLM{
		deltas: deltas,
		usage:  model.TokenUsage{PromptTokens: 5, CompletionTokens: 20, TotalTokens: 25},
	}
	chatSvc, convSvc, _, convID := newTestChat(t, client, defaultChatConfig())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = chatSvc.SendWithStream(
				context.Background(), "tenant-1", convID,
				&model.SendMessageRequest{Content: "hi"}, nil,
			)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	history, err := convSvc.Messages(context.Background(), "tenant-1", convID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestGovernorEvictedAfterIdle(t *testing.T) {
	client := &fakeLLM{}
	chatSvc, _, _, convID := newTestChat(t, client, defaultChatConfig())

	base := time.Now()
	chatSvc.now = func() time.Time { return base }
	chatSvc.Status(convID)

	chatSvc.mu.Lock()
	_, exists := chatSvc.governors[convID]
	chatSvc.mu.Unlock()
	require.True(t, exists)

	// Touching any other conversation after the TTL sweeps the idle entry.
	chatSvc.now = func() time.Time { return base.Add(governorIdleTTL + time.Minute) }
	chatSvc.Status("other-conversation")

	chatSvc.mu.Lock()
	_, exists = chatSvc.governors[convID]
	remaining := len(chatSvc.governors)
	chatSvc.mu.Unlock()
	assert.False(t, exists)
	assert.Equal(t, 1, remaining)
}

func TestStatusFreshConversation(t *testing.T) {
	client := &fakeLLM{}
	chatSvc, _, _, convID := newTestChat(t, client, defaultChatConfig())

	status := chatSvc.Status(convID)
	assert.Equal(t, convID, status.ConversationID)
	assert.Equal(t, "closed", status.CircuitState)
	assert.Equal(t, 0, status.FailureCount)
	assert.Equal(t, 100.0, status.AvailableTokens)
	assert.Equal(t, 0.0, status.WaitSeconds)
}
