package model

import (
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// TokenUsage is the authoritative token accounting reported by a provider at
// the end of a completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost computes the exact cost of this usage given per-1k-token prices.
func (u TokenUsage) Cost(promptPricePer1K, completionPricePer1K decimal.Decimal) decimal.Decimal {
	prompt := decimal.NewFromInt(int64(u.PromptTokens)).Div(thousand).Mul(promptPricePer1K)
	completion := decimal.NewFromInt(int64(u.CompletionTokens)).Div(thousand).Mul(completionPricePer1K)
	return prompt.Add(completion)
}
