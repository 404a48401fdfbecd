package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/internal/breaker"
	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/internal/fault"
	"github.com/guardrail-ai/llm-gateway/internal/llm"
	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/internal/ratelimit"
	"github.com/guardrail-ai/llm-gateway/internal/stream"
	"github.com/guardrail-ai/llm-gateway/internal/tokencount"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
	"github.com/guardrail-ai/llm-gateway/pkg/metrics"
)

// ChatConfig holds the governance parameters for outbound LLM calls.
type ChatConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	RateLimit        ratelimit.Config
	MaxContextTokens int
	ReserveTokens    int
	DefaultModel     string
}

// TokenCallback is called for each token during streaming.
type TokenCallback func(token string, index int) error

// governorIdleTTL is how long an untouched governor survives before it is
// evicted. Eviction bounds the map on a long-lived process serving many
// short-lived conversations.
const governorIdleTTL = time.Hour

// governor is the per-conversation breaker/limiter pair. Each conversation
// fails and throttles independently.
type governor struct {
	breaker  *breaker.Breaker
	limiter  *ratelimit.Limiter
	lastUsed time.Time
}

// ChatService orchestrates a governed streaming exchange: rate limit check,
// circuit check, context truncation, stream bridging, event emission and
// breaker accounting.
type ChatService struct {
	conversations *ConversationService
	llmClient     llm.Client
	bus           *event.Bus
	counter       *tokencount.Counter
	cfg           ChatConfig
	logger        *logger.Logger

	mu        sync.Mutex
	governors map[string]*governor

	now func() time.Time
}

// NewChatService creates a chat service. The bus must be the shared
// process-wide bus so budget observers see this service's events.
func NewChatService(
	conversations *ConversationService,
	llmClient llm.Client,
	bus *event.Bus,
	counter *tokencount.Counter,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		llmClient:     llmClient,
		bus:           bus,
		counter:       counter,
		cfg:           cfg,
		logger:        log,
		governors:     make(map[string]*governor),
		now:           time.Now,
	}
}

// governor returns the breaker/limiter pair for a conversation, creating it
// on first use and evicting pairs idle past governorIdleTTL.
func (s *ChatService) governor(conversationID string) *governor {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, g := range s.governors {
		if id != conversationID && now.Sub(g.lastUsed) > governorIdleTTL {
			delete(s.governors, id)
		}
	}

	if g, ok := s.governors[conversationID]; ok {
		g.lastUsed = now
		return g
	}

	limiter, err := ratelimit.New(s.cfg.RateLimit)
	if err != nil {
		// Config was validated at startup; fall back to defaults rather
		// than leave the conversation ungoverned.
		limiter, _ = ratelimit.New(ratelimit.DefaultConfig())
	}
	g := &governor{
		breaker:  breaker.New(s.cfg.FailureThreshold, s.cfg.RecoveryTimeout),
		limiter:  limiter,
		lastUsed: now,
	}
	s.governors[conversationID] = g
	return g
}

// SendWithStream sends a user message and streams the assistant response.
// The returned user message is non-nil whenever it was recorded, even if the
// stream later failed.
func (s *ChatService) SendWithStream(
	ctx context.Context,
	tenantID, conversationID string,
	req *model.SendMessageRequest,
	onToken TokenCallback,
) (*model.Message, *model.Message, error) {
	gov := s.governor(conversationID)

	// Governance gates run before anything is recorded: a throttled or
	// circuit-rejected request leaves no trace in the conversation.
	if err := gov.limiter.Acquire(); err != nil {
		metrics.RateLimitRejections.Inc()
		return nil, nil, err
	}
	prevState := gov.breaker.State()
	if err := gov.breaker.CheckState(); err != nil {
		metrics.CircuitRejections.Inc()
		return nil, nil, err
	}
	if st := gov.breaker.State(); st != prevState {
		metrics.RecordCircuitTransition(st.String())
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}

	userMsg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		TenantID:       tenantID,
		Role:           model.RoleUser,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if err := s.conversations.AppendMessage(ctx, userMsg); err != nil {
		return nil, nil, err
	}
	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.RoleUser)).Inc()

	history, err := s.conversations.Messages(ctx, tenantID, conversationID)
	if err != nil {
		return &userMsg, nil, err
	}

	history, dropped := s.counter.TruncateContext(history, modelName, s.cfg.MaxContextTokens, s.cfg.ReserveTokens)
	if dropped > 0 {
		metrics.MessagesTruncated.Add(float64(dropped))
		s.bus.Emit(event.DomainEvent{
			Type:           event.ContextTruncated,
			ConversationID: conversationID,
			Payload:        map[string]any{"dropped": dropped},
		})
	}

	chatMessages := make([]llm.ChatMessage, len(history))
	for i, msg := range history {
		chatMessages[i] = llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	s.bus.Emit(event.DomainEvent{
		Type:           event.MessageStarted,
		ConversationID: conversationID,
		Payload:        map[string]any{"model": modelName},
	})

	// The provider stream cannot be wrapped in breaker.Do: the breaker must
	// not hold its lock for the stream's lifetime, and success is only known
	// after the last chunk. Check up front, bridge the stream, then report
	// the outcome manually.
	streamStart := time.Now()
	bridge := stream.NewBridge()
	source := s.llmClient.StreamSource(&llm.CompletionRequest{
		Model:    modelName,
		Messages: chatMessages,
	})

	index := 0
	var callbackErr error
	finalMeta, err := bridge.Run(ctx, source,
		func(delta string) {
			s.bus.Emit(event.DomainEvent{
				Type:           event.TokenGenerated,
				ConversationID: conversationID,
				Payload:        map[string]any{"token": delta},
			})
			if callbackErr == nil && onToken != nil {
				callbackErr = onToken(delta, index)
			}
			index++
		},
		nil,
	)
	streamEnd := time.Now()
	latency := streamEnd.Sub(streamStart)

	if err != nil {
		prevState = gov.breaker.State()
		gov.breaker.ReportFailure()
		if st := gov.breaker.State(); st != prevState {
			metrics.RecordCircuitTransition(st.String())
		}
		metrics.RecordLLMStream(modelName, "error", latency.Seconds(), 0, 0)
		s.logger.WithConversation(conversationID).Error("LLM stream failed",
			zap.String("model", modelName),
			zap.Int("partial_bytes", len(bridge.Content())),
			zap.Error(err),
		)
		return &userMsg, nil, fault.Upstream("LLM stream failed", err)
	}

	prevState = gov.breaker.State()
	gov.breaker.ReportSuccess()
	if st := gov.breaker.State(); st != prevState {
		metrics.RecordCircuitTransition(st.String())
	}

	usage, _ := finalMeta[llm.MetaUsage].(model.TokenUsage)
	stopReason, _ := finalMeta[llm.MetaStopReason].(string)
	respModel, _ := finalMeta[llm.MetaModel].(string)
	if respModel == "" {
		respModel = modelName
	}

	s.bus.Emit(event.DomainEvent{
		Type:           event.MessageCompleted,
		ConversationID: conversationID,
		Payload:        map[string]any{"usage": usage},
	})

	latencyMs := latency.Milliseconds()
	assistantMsg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		TenantID:       tenantID,
		Role:           model.RoleAssistant,
		Content:        bridge.Content(),
		Model:          &respModel,
		TokensIn:       &usage.PromptTokens,
		TokensOut:      &usage.CompletionTokens,
		LatencyMs:      &latencyMs,
		StopReason:     &stopReason,
		CreatedAt:      time.Now(),
		StreamStarted:  &streamStart,
		StreamEnded:    &streamEnd,
	}
	if err := s.conversations.AppendMessage(ctx, assistantMsg); err != nil {
		return &userMsg, nil, err
	}

	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.RoleAssistant)).Inc()
	metrics.RecordLLMStream(respModel, "success", latency.Seconds(), usage.PromptTokens, usage.CompletionTokens)

	if callbackErr != nil {
		return &userMsg, &assistantMsg, callbackErr
	}
	return &userMsg, &assistantMsg, nil
}

// GetMessages retrieves messages for a conversation.
func (s *ChatService) GetMessages(ctx context.Context, tenantID, conversationID string) (*model.ListMessagesResponse, error) {
	messages, err := s.conversations.Messages(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.ListMessagesResponse{
		Messages: messages,
		Total:    len(messages),
	}, nil
}

// GovernorStatus is a point-in-time view of one conversation's governance
// state.
type GovernorStatus struct {
	ConversationID  string  `json:"conversation_id"`
	CircuitState    string  `json:"circuit_state"`
	FailureCount    int     `json:"failure_count"`
	AvailableTokens float64 `json:"available_tokens"`
	WaitSeconds     float64 `json:"wait_seconds"`
}

// Status reports the governance state for a conversation.
func (s *ChatService) Status(conversationID string) GovernorStatus {
	gov := s.governor(conversationID)
	return GovernorStatus{
		ConversationID:  conversationID,
		CircuitState:    gov.breaker.State().String(),
		FailureCount:    gov.breaker.FailureCount(),
		AvailableTokens: gov.limiter.AvailableTokens(),
		WaitSeconds:     gov.limiter.WaitTime().Seconds(),
	}
}
