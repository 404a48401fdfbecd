// Package service provides business logic for the gateway.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/internal/fault"
	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
)

// ConversationService handles conversation operations. Conversations and
// their messages are held in memory; the persistence layer is outside this
// service's scope.
type ConversationService struct {
	logger *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
}

// NewConversationService creates a new conversation service.
func NewConversationService(log *logger.Logger) *ConversationService {
	return &ConversationService{
		logger:        log,
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// Create creates a new conversation.
func (s *ConversationService) Create(ctx context.Context, tenantID, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	now := time.Now()

	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  req.Metadata,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.WithConversation(conv.ID).Info("conversation created",
		zap.String("tenant_id", tenantID),
	)

	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	conv, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, fault.NotFound("conversation not found")
	}

	return conv, nil
}

// List retrieves conversations for a tenant, newest first.
func (s *ConversationService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	s.mu.RLock()
	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID && !conv.Deleted {
			convs = append(convs, *conv)
		}
	}
	s.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListConversationsResponse{
		Conversations: convs[start:end],
		Total:         total,
		HasMore:       end < total,
	}, nil
}

// Update updates a conversation.
func (s *ConversationService) Update(ctx context.Context, tenantID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, fault.NotFound("conversation not found")
	}

	if req.Title != "" {
		conv.Title = req.Title
	}
	if req.Metadata != nil {
		conv.Metadata = req.Metadata
	}
	conv.UpdatedAt = time.Now()

	return conv, nil
}

// Delete soft deletes a conversation.
func (s *ConversationService) Delete(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return fault.NotFound("conversation not found")
	}

	conv.Deleted = true
	conv.UpdatedAt = time.Now()

	return nil
}

// AppendMessage records a message and updates conversation bookkeeping.
func (s *ConversationService) AppendMessage(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[msg.ConversationID]
	if !exists || conv.TenantID != msg.TenantID || conv.Deleted {
		return fault.NotFound("conversation not found")
	}

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	last := msg
	conv.LastMessage = &last
	conv.MessageCount++
	conv.UpdatedAt = time.Now()

	return nil
}

// Messages returns the message history of a conversation in order.
func (s *ConversationService) Messages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, fault.NotFound("conversation not found")
	}

	history := s.messages[conversationID]
	out := make([]model.Message, len(history))
	copy(out, history)
	return out, nil
}
