package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardrail-ai/llm-gateway/internal/cost"
	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/internal/llm"
	"github.com/guardrail-ai/llm-gateway/internal/middleware"
	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/internal/ratelimit"
	"github.com/guardrail-ai/llm-gateway/internal/service"
	"github.com/guardrail-ai/llm-gateway/internal/stream"
	"github.com/guardrail-ai/llm-gateway/internal/tokencount"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
)

type stubTokenizer struct{}

func (stubTokenizer) CountTokens(text, _ string) int {
	return len(strings.Fields(text))
}

// stubLLM streams a fixed number of single-character deltas.
type stubLLM struct {
	tokens int
}

func (s *stubLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) StreamSource(*llm.CompletionRequest) stream.Source {
	return func(_ context.Context, yield func(stream.Chunk) error) error {
		for i := 0; i < s.tokens; i++ {
			if err := yield(stream.Chunk{Delta: "x"}); err != nil {
				return err
			}
		}
		return yield(stream.Chunk{Metadata: map[string]any{
			llm.MetaUsage: model.TokenUsage{
				PromptTokens:     10,
				CompletionTokens: s.tokens,
				TotalTokens:      10 + s.tokens,
			},
			llm.MetaStopReason: "stop",
			llm.MetaModel:      "test-model",
		}})
	}
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Models() []string { return []string{"test-model"} }

// newStreamFixture wires a handler over a shared bus with a budget tracker
// whose limit is blown by the first streamed token.
func newStreamFixture(t *testing.T, tokens int) (*StreamHandler, string) {
	t.Helper()

	log, err := logger.New("error")
	require.NoError(t, err)

	bus := event.NewBus(log)
	convSvc := service.NewConversationService(log)
	conv, err := convSvc.Create(context.Background(), "tenant-1", "user-1",
		&model.CreateConversationRequest{Title: "test"})
	require.NoError(t, err)

	counter := tokencount.NewCounter(stubTokenizer{})
	chatSvc := service.NewChatService(convSvc, &stubLLM{tokens: tokens}, bus, counter, service.ChatConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
		RateLimit:        ratelimit.Config{RequestsPerMinute: 600, BurstSize: 100},
		MaxContextTokens: 10000,
		ReserveTokens:    100,
		DefaultModel:     "test-model",
	}, log)

	limit := decimal.RequireFromString("0.0001")
	cost.NewTracker(bus, cost.StaticPricing{
		"test-model": {Prompt: decimal.Zero, Completion: decimal.RequireFromString("3.0")},
	}, cost.Options{
		BudgetLimit:      &limit,
		EstimateInterval: 1,
	})

	return NewStreamHandler(chatSvc, convSvc, bus, log), conv.ID
}

func streamRequest(conversationID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/conversations/"+conversationID+"/stream",
		strings.NewReader(`{"content":"hello there"}`))

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", conversationID)

	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.TenantIDKey, "tenant-1")
	ctx = context.WithValue(ctx, middleware.UserIDKey, "user-1")
	return req.WithContext(ctx)
}

func TestStreamWithMessageForwardsBudgetEvents(t *testing.T) {
	h, convID := newStreamFixture(t, 3)

	rec := httptest.NewRecorder()
	h.StreamWithMessage(rec, streamRequest(convID))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, "event: budget_exceeded")
	assert.Contains(t, body, "event: user_message")
	assert.Contains(t, body, "event: message_complete")
	assert.Contains(t, body, "event: done")
}

func TestStreamWithMessageConcurrentSameConversation(t *testing.T) {
	h, convID := newStreamFixture(t, 40)

	// Budget events are emitted by whichever request's goroutine trips the
	// tracker; each response must still be written only by its own request
	// goroutine.
	recs := [2]*httptest.ResponseRecorder{httptest.NewRecorder(), httptest.NewRecorder()}

	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *httptest.ResponseRecorder) {
			defer wg.Done()
			h.StreamWithMessage(rec, streamRequest(convID))
		}(rec)
	}
	wg.Wait()

	for _, rec := range recs {
		body := rec.Body.String()
		assert.Contains(t, body, "event: token")
		assert.Contains(t, body, "event: budget_exceeded")
		assert.Contains(t, body, "event: done")
	}
}
