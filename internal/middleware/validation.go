package middleware

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/guardrail-ai/llm-gateway/internal/fault"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return fault.Validation("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return fault.Validation("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return fault.Validation("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fault.Validation("invalid conversation ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return fault.Validation("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return fault.Validation("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return fault.Validation("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return fault.Validation("title must be valid UTF-8")
	}
	return nil
}
