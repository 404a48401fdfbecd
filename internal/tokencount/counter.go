// Package tokencount estimates context sizes and truncates conversation
// history to fit a model's context window.
package tokencount

import (
	"fmt"

	"github.com/guardrail-ai/llm-gateway/internal/model"
)

const (
	// messageOverhead is the fixed per-message token overhead covering the
	// role/content framing the chat format adds around each message.
	messageOverhead = 4

	// replyPrimer is the constant overhead for priming the assistant reply.
	replyPrimer = 2
)

// Tokenizer is the external tokenizer oracle. Implementations must be
// deterministic for a given model and safe for concurrent use.
type Tokenizer interface {
	CountTokens(text, model string) int
}

// Counter counts tokens for messages and applies the truncation policy.
type Counter struct {
	tokenizer Tokenizer
}

// NewCounter creates a counter backed by the given tokenizer.
func NewCounter(tokenizer Tokenizer) *Counter {
	return &Counter{tokenizer: tokenizer}
}

// CountTokens returns the token count of text for a model.
func (c *Counter) CountTokens(text, modelName string) int {
	return c.tokenizer.CountTokens(text, modelName)
}

// CountMessage returns the token count of one message including framing
// overhead.
func (c *Counter) CountMessage(msg model.Message, modelName string) int {
	return messageOverhead +
		c.tokenizer.CountTokens(string(msg.Role), modelName) +
		c.tokenizer.CountTokens(msg.Content, modelName)
}

// CountMessages returns the total token count of a message list including
// the reply primer.
func (c *Counter) CountMessages(messages []model.Message, modelName string) int {
	if len(messages) == 0 {
		return 0
	}
	total := replyPrimer
	for _, msg := range messages {
		total += c.CountMessage(msg, modelName)
	}
	return total
}

// TruncateContext drops the oldest non-system messages until the remainder
// plus reserveTokens fits within maxTokens. It returns the resulting list and
// the number of messages dropped.
//
// Policy:
//   - A leading system message always survives.
//   - Eviction is oldest-first among non-system messages.
//   - When anything was dropped, one synthetic system marker noting the
//     omission is inserted after the system message, so both the model and
//     the user see the gap.
//   - At least the newest non-system message is kept when any existed.
//   - Degenerate budgets: if even the system message, marker and newest
//     message overflow maxTokens, the marker is dropped first; the system
//     message and the newest message are kept regardless, accepting the
//     overshoot. This keeps the result deterministic instead of returning
//     an unusable empty context.
func (c *Counter) TruncateContext(messages []model.Message, modelName string, maxTokens, reserveTokens int) ([]model.Message, int) {
	if len(messages) == 0 {
		return messages, 0
	}

	budget := maxTokens - reserveTokens
	if c.CountMessages(messages, modelName) <= budget {
		return messages, 0
	}

	var system *model.Message
	rest := messages
	if messages[0].Role == model.RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	used := replyPrimer
	if system != nil {
		used += c.CountMessage(*system, modelName)
	}

	// Walk newest to oldest, keeping messages while they fit.
	kept := 0
	for i := len(rest) - 1; i >= 0; i-- {
		tokens := c.CountMessage(rest[i], modelName)
		if used+tokens > budget && kept > 0 {
			break
		}
		used += tokens
		kept++
	}

	dropped := len(rest) - kept
	if dropped == 0 {
		// Nothing evictable; the overflow is the system message itself.
		return messages, 0
	}

	result := make([]model.Message, 0, kept+2)
	if system != nil {
		result = append(result, *system)
	}

	marker := model.Message{
		Role:    model.RoleSystem,
		Content: fmt.Sprintf("[%d earlier messages truncated to fit the context window]", dropped),
	}
	if used+c.CountMessage(marker, modelName) <= budget {
		result = append(result, marker)
	}

	result = append(result, rest[len(rest)-kept:]...)
	return result, dropped
}
