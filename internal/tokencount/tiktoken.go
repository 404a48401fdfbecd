package tokencount

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackCharsPerToken approximates tokenization when an encoding is
// unavailable (about 4 characters per token for English text).
const fallbackCharsPerToken = 4.0

// TiktokenTokenizer counts tokens with tiktoken encodings. Models sharing an
// encoding family share one cached encoder; encodings are only loaded once.
type TiktokenTokenizer struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTiktokenTokenizer creates a tokenizer with an empty encoder cache.
func NewTiktokenTokenizer() *TiktokenTokenizer {
	return &TiktokenTokenizer{
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// CountTokens implements Tokenizer. Unknown models and encoding load
// failures fall back to a rune-count heuristic so counting never fails.
func (t *TiktokenTokenizer) CountTokens(text, model string) int {
	if text == "" {
		return 0
	}

	enc := t.encoder(model)
	if enc == nil {
		return int(float64(utf8.RuneCountInString(text))/fallbackCharsPerToken + 0.5)
	}
	return len(enc.Encode(text, nil, nil))
}

// encoder returns the cached encoder for the model's encoding family,
// loading it on first use.
func (t *TiktokenTokenizer) encoder(model string) *tiktoken.Tiktoken {
	name := encodingName(model)

	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.encoders[name]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		// Cache the miss so we don't retry the load on every call.
		t.encoders[name] = nil
		return nil
	}
	t.encoders[name] = enc
	return enc
}

// encodingName maps a model identifier to its tiktoken encoding family.
// Identifiers may carry a provider prefix ("openai/gpt-4o").
func encodingName(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.HasPrefix(model, "gpt-4o"):
		return "o200k_base"
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return "cl100k_base"
	default:
		return "cl100k_base"
	}
}
