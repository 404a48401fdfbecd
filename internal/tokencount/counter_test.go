package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardrail-ai/llm-gateway/internal/model"
)

// wordTokenizer counts whitespace-separated words, which keeps the expected
// totals easy to compute by hand.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text, _ string) int {
	return len(strings.Fields(text))
}

func msg(role model.Role, content string) model.Message {
	return model.Message{Role: role, Content: content}
}

func TestCountMessage(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	// 4 overhead + 1 for the role + 3 for the content.
	got := c.CountMessage(msg(model.RoleUser, "one two three"), "test-model")
	assert.Equal(t, 8, got)
}

func TestCountMessagesEmpty(t *testing.T) {
	c := NewCounter(wordTokenizer{})
	assert.Equal(t, 0, c.CountMessages(nil, "test-model"))
}

func TestCountMessagesIncludesReplyPrimer(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	messages := []model.Message{
		msg(model.RoleUser, "one two"),       // 4 + 1 + 2 = 7
		msg(model.RoleAssistant, "one"),      // 4 + 1 + 1 = 6
		msg(model.RoleUser, "one two three"), // 4 + 1 + 3 = 8
	}
	assert.Equal(t, 7+6+8+2, c.CountMessages(messages, "test-model"))
}

func TestTruncateNoOpWhenFitting(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	messages := []model.Message{
		msg(model.RoleSystem, "be helpful"),
		msg(model.RoleUser, "hello"),
	}

	result, dropped := c.TruncateContext(messages, "test-model", 100, 10)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, messages, result)
}

func TestTruncateDropsOldestFirst(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	// Each user/assistant message costs 4 + 1 + 1 = 6 tokens.
	messages := []model.Message{
		msg(model.RoleUser, "first"),
		msg(model.RoleAssistant, "second"),
		msg(model.RoleUser, "third"),
		msg(model.RoleAssistant, "fourth"),
	}

	// Budget 30 - 5 = 25: primer(2) + marker + newest messages.
	result, dropped := c.TruncateContext(messages, "test-model", 30, 5)
	require.Greater(t, dropped, 0)

	// The newest message always survives and order is preserved.
	last := result[len(result)-1]
	assert.Equal(t, "fourth", last.Content)
	for i, m := range result {
		if m.Role != model.RoleSystem {
			assert.Equal(t, messages[len(messages)-(len(result)-i)].Content, m.Content)
		}
	}
}

func TestTruncateKeepsSystemMessage(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	messages := []model.Message{
		msg(model.RoleSystem, "you are terse"),
		msg(model.RoleUser, "a b c d e f g h"),
		msg(model.RoleAssistant, "a b c d e f g h"),
		msg(model.RoleUser, "latest question"),
	}

	result, dropped := c.TruncateContext(messages, "test-model", 40, 10)
	require.Greater(t, dropped, 0)

	assert.Equal(t, model.RoleSystem, result[0].Role)
	assert.Equal(t, "you are terse", result[0].Content)
	assert.Equal(t, "latest question", result[len(result)-1].Content)
}

func TestTruncateInsertsSingleMarker(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	long := strings.TrimSpace(strings.Repeat("w ", 15))
	messages := []model.Message{
		msg(model.RoleSystem, "sys"),
		msg(model.RoleUser, long),
		msg(model.RoleAssistant, long),
		msg(model.RoleUser, long),
		msg(model.RoleUser, "newest"),
	}

	result, dropped := c.TruncateContext(messages, "test-model", 58, 10)
	require.Equal(t, 2, dropped)

	markers := 0
	for _, m := range result[1:] {
		if m.Role == model.RoleSystem {
			markers++
			assert.Contains(t, m.Content, "truncated")
			assert.Contains(t, m.Content, "earlier messages")
		}
	}
	assert.Equal(t, 1, markers)
}

func TestTruncateDegenerateBudget(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	messages := []model.Message{
		msg(model.RoleSystem, "a b c d e f g h i j"),
		msg(model.RoleUser, "a b c d e f g h i j"),
		msg(model.RoleAssistant, "a b c d e f g h i j"),
		msg(model.RoleUser, "a b c d e f g h i j"),
	}

	// Budget far too small for even one message. The system message and the
	// newest message survive anyway; the marker is sacrificed.
	result, dropped := c.TruncateContext(messages, "test-model", 10, 5)
	assert.Equal(t, 2, dropped)

	require.Len(t, result, 2)
	assert.Equal(t, model.RoleSystem, result[0].Role)
	assert.Equal(t, model.RoleUser, result[1].Role)
	assert.Equal(t, messages[3].Content, result[1].Content)
}

func TestTruncateWithoutSystemMessage(t *testing.T) {
	c := NewCounter(wordTokenizer{})

	messages := []model.Message{
		msg(model.RoleUser, "a b c d e"),
		msg(model.RoleAssistant, "a b c d e"),
		msg(model.RoleUser, "newest"),
	}

	result, dropped := c.TruncateContext(messages, "test-model", 20, 5)
	require.Greater(t, dropped, 0)
	assert.Equal(t, "newest", result[len(result)-1].Content)
}
