package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/internal/fault"
	"github.com/guardrail-ai/llm-gateway/internal/middleware"
	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/internal/service"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
	"github.com/guardrail-ai/llm-gateway/pkg/metrics"
)

// forwardBuffer bounds the per-request queue of bus events awaiting
// delivery on the request goroutine.
const forwardBuffer = 16

// forwardedEvent is a bus event queued for SSE delivery.
type forwardedEvent struct {
	name    string
	payload map[string]any
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	chatService         *service.ChatService
	conversationService *service.ConversationService
	bus                 *event.Bus
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	chatSvc *service.ChatService,
	convSvc *service.ConversationService,
	bus *event.Bus,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		chatService:         chatSvc,
		conversationService: convSvc,
		bus:                 bus,
		logger:              log,
	}
}

// StreamWithMessage handles POST /api/v1/conversations/:id/stream.
// It accepts a message and streams the governed response: token events as
// the model produces them, plus budget and truncation events raised on the
// shared bus for this conversation.
func (h *StreamHandler) StreamWithMessage(w http.ResponseWriter, r *http.Request) {
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

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeFault(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Bus observers run on the emitting goroutine, which for budget events
	// may be another request streaming the same conversation. Observers only
	// queue here; the response is written exclusively by this goroutine,
	// draining the queue between token events and after the stream ends.
	forwarded := make(chan forwardedEvent, forwardBuffer)
	forward := func(sseEvent string) event.Observer {
		return event.ObserverFunc(func(ev event.DomainEvent) {
			if ev.ConversationID != conversationID {
				return
			}
			select {
			case forwarded <- forwardedEvent{name: sseEvent, payload: ev.Payload}:
			default:
				// Forwarding is best-effort; a full queue drops the event
				// rather than stalling the emitter.
			}
		})
	}
	defer h.bus.Subscribe(event.BudgetThreshold, forward("budget_threshold"))()
	defer h.bus.Subscribe(event.BudgetExceeded, forward("budget_exceeded"))()
	defer h.bus.Subscribe(event.ContextTruncated, forward("context_truncated"))()

	drain := func() {
		for {
			select {
			case fe := <-forwarded:
				sendSSEEvent(w, flusher, fe.name, fe.payload)
			default:
				return
			}
		}
	}

	userMsg, assistantMsg, err := h.chatService.SendWithStream(
		ctx,
		tenantID,
		conversationID,
		&req,
		func(token string, index int) error {
			// Check if client disconnected
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := sendSSEEvent(w, flusher, "token", &model.TokenEvent{
				Token: token,
				Index: index,
			}); err != nil {
				return err
			}
			drain()
			return nil
		},
	)
	drain()

	if err != nil {
		h.logger.WithConversation(conversationID).Warn("stream request failed",
			zap.String("code", fault.KindOf(err).String()),
			zap.Error(err),
		)
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:       fault.KindOf(err).String(),
			Message:    err.Error(),
			RetryAfter: fault.RetryAfter(err).Seconds(),
		})
		return
	}

	if userMsg != nil {
		sendSSEEvent(w, flusher, "user_message", userMsg)
	}

	if assistantMsg != nil {
		usage := model.TokenUsage{}
		if assistantMsg.TokensIn != nil && assistantMsg.TokensOut != nil {
			usage = model.TokenUsage{
				PromptTokens:     *assistantMsg.TokensIn,
				CompletionTokens: *assistantMsg.TokensOut,
				TotalTokens:      *assistantMsg.TokensIn + *assistantMsg.TokensOut,
			}
		}
		sendSSEEvent(w, flusher, "message_complete", &model.MessageCompleteEvent{
			Message: *assistantMsg,
			Usage:   usage,
		})
	}

	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

// Stream handles GET /api/v1/conversations/:id/stream. It replays the
// conversation history and then holds the connection open with heartbeats.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	resp, err := h.chatService.GetMessages(ctx, tenantID, conversationID)
	if err != nil {
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    fault.KindOf(err).String(),
			Message: "failed to replay messages",
		})
		return
	}

	done := ctx.Done()
	for _, msg := range resp.Messages {
		select {
		case <-done:
			return
		default:
		}
		sendSSEEvent(w, flusher, "message", msg)
	}

	sendSSEEvent(w, flusher, "replay_complete", map[string]int{
		"message_count": len(resp.Messages),
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.WithConversation(conversationID).Info("SSE client disconnected")
			return
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
