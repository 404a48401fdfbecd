package cost

import (
	"github.com/shopspring/decimal"
)

// Price holds per-1k-token prices for one model.
type Price struct {
	Prompt     decimal.Decimal
	Completion decimal.Decimal
}

// Pricing is the external pricing oracle.
type Pricing interface {
	// ModelPrice returns the price for a model, and whether it is known.
	ModelPrice(model string) (Price, bool)
}

// StaticPricing is a fixed in-memory pricing table.
type StaticPricing map[string]Price

// ModelPrice looks up the table.
func (p StaticPricing) ModelPrice(model string) (Price, bool) {
	price, ok := p[model]
	return price, ok
}

// DefaultPricing returns a pricing table for commonly used models, prices in
// USD per 1k tokens.
func DefaultPricing() StaticPricing {
	return StaticPricing{
		"gpt-4o":                     {Prompt: decimal.RequireFromString("0.0025"), Completion: decimal.RequireFromString("0.01")},
		"gpt-4o-mini":                {Prompt: decimal.RequireFromString("0.00015"), Completion: decimal.RequireFromString("0.0006")},
		"gpt-3.5-turbo":              {Prompt: decimal.RequireFromString("0.0015"), Completion: decimal.RequireFromString("0.002")},
		"claude-3-5-sonnet-20241022": {Prompt: decimal.RequireFromString("0.003"), Completion: decimal.RequireFromString("0.015")},
		"claude-3-5-haiku-20241022":  {Prompt: decimal.RequireFromString("0.0008"), Completion: decimal.RequireFromString("0.004")},
	}
}
