package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/internal/cost"
	"github.com/guardrail-ai/llm-gateway/internal/middleware"
	"github.com/guardrail-ai/llm-gateway/internal/service"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	chatService         *service.ChatService
	conversationService *service.ConversationService
	costTracker         *cost.Tracker
	logger              *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	chatSvc *service.ChatService,
	convSvc *service.ConversationService,
	tracker *cost.Tracker,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		chatService:         chatSvc,
		conversationService: convSvc,
		costTracker:         tracker,
		logger:              log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeFault(w, err)
		return
	}

	resp, err := h.chatService.GetMessages(ctx, tenantID, conversationID)
	if err != nil {
		h.logger.Error("failed to get messages", zap.Error(err))
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/v1/conversations/:id/status. It reports the
// conversation's governance state: circuit, token bucket and spend.
func (h *MessageHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeFault(w, err)
		return
	}

	if _, err := h.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		writeFault(w, err)
		return
	}

	resp := statusResponse{
		GovernorStatus:  h.chatService.Status(conversationID),
		AccumulatedCost: h.costTracker.Accumulated().String(),
	}
	if limit := h.costTracker.BudgetLimit(); limit != nil {
		s := limit.String()
		resp.BudgetLimit = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusResponse extends the governor view with process-wide spend state.
type statusResponse struct {
	service.GovernorStatus
	AccumulatedCost string  `json:"accumulated_cost"`
	BudgetLimit     *string `json:"budget_limit,omitempty"`
}
