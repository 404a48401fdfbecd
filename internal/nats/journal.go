package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
)

const (
	// StreamName is the name of the governance event journal stream.
	StreamName = "GOVERNANCE"

	// SubjectPrefix is the prefix for all journal subjects.
	SubjectPrefix = "gov"
)

// Journal persists domain events to JetStream for durable audit. It is an
// event bus observer: subscribe it with SubscribeAll so every governance
// event is journaled.
//
// Publishing is asynchronous and best-effort. Bus dispatch is synchronous on
// the emitting goroutine, so the journal must not add a network round trip to
// every token event.
type Journal struct {
	client *Client
	logger *logger.Logger
}

// NewJournal creates a journal on the given connection.
func NewJournal(client *Client, log *logger.Logger) *Journal {
	return &Journal{client: client, logger: log}
}

// EnsureStream ensures the journal stream exists with proper configuration.
func (j *Journal) EnsureStream(ctx context.Context) error {
	js := j.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Governance event journal",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// journalEntry is the wire form of a journaled event.
type journalEntry struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// Subject returns the journal subject for an event.
func Subject(ev event.DomainEvent) string {
	conversation := ev.ConversationID
	if conversation == "" {
		conversation = "global"
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, conversation, ev.Type)
}

// OnEvent implements event.Observer.
func (j *Journal) OnEvent(ev event.DomainEvent) {
	data, err := json.Marshal(journalEntry{
		Type:           ev.Type,
		ConversationID: ev.ConversationID,
		Payload:        ev.Payload,
		RecordedAt:     time.Now(),
	})
	if err != nil {
		j.logger.Warn("failed to marshal journal entry",
			zap.String("event_type", ev.Type),
			zap.Error(err),
		)
		return
	}

	if _, err := j.client.JetStream().PublishAsync(Subject(ev), data); err != nil {
		j.logger.Warn("failed to journal event",
			zap.String("event_type", ev.Type),
			zap.Error(err),
		)
	}
}
