// Package cost tracks accumulated LLM spend and enforces a budget limit.
//
// The tracker is an event bus observer. It keeps a running per-token estimate
// while a message streams and reconciles against the provider's authoritative
// usage on completion. It never returns errors; budget state is surfaced only
// as budget.threshold and budget.exceeded events on the shared bus.
package cost

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/internal/model"
	"github.com/guardrail-ai/llm-gateway/pkg/metrics"
)

const (
	// DefaultEstimateInterval is how many streamed tokens elapse between
	// budget checks during estimation.
	DefaultEstimateInterval = 100
)

// DefaultThresholdRatio is the budget fraction at which budget.threshold
// fires (80%).
var DefaultThresholdRatio = decimal.RequireFromString("0.8")

// Options configures a Tracker.
type Options struct {
	// BudgetLimit is the spend ceiling in USD. Nil disables all budget
	// events regardless of spend.
	BudgetLimit *decimal.Decimal

	// ThresholdRatio is the fraction of the limit at which the soft warning
	// fires. Zero value means DefaultThresholdRatio.
	ThresholdRatio decimal.Decimal

	// EstimateInterval is the streaming check cadence in tokens. Zero means
	// DefaultEstimateInterval.
	EstimateInterval int
}

// Tracker accumulates cost from message lifecycle events.
//
// The bus must be the shared process-wide bus, injected at construction.
// Constructing a private bus here would emit budget events to nowhere.
type Tracker struct {
	bus     *event.Bus
	pricing Pricing
	opts    Options

	mu              sync.Mutex
	accumulated     decimal.Decimal
	model           string
	estimatedTokens int
	tracking        bool
}

// NewTracker creates a tracker and subscribes it to the message lifecycle
// events on the shared bus.
func NewTracker(bus *event.Bus, pricing Pricing, opts Options) *Tracker {
	if opts.ThresholdRatio.IsZero() {
		opts.ThresholdRatio = DefaultThresholdRatio
	}
	if opts.EstimateInterval <= 0 {
		opts.EstimateInterval = DefaultEstimateInterval
	}
	t := &Tracker{
		bus:         bus,
		pricing:     pricing,
		opts:        opts,
		accumulated: decimal.Zero,
	}
	bus.Subscribe(event.MessageStarted, t)
	bus.Subscribe(event.TokenGenerated, t)
	bus.Subscribe(event.MessageCompleted, t)
	return t
}

// OnEvent implements event.Observer.
func (t *Tracker) OnEvent(ev event.DomainEvent) {
	switch ev.Type {
	case event.MessageStarted:
		t.onStarted(ev)
	case event.TokenGenerated:
		t.onToken(ev)
	case event.MessageCompleted:
		t.onCompleted(ev)
	}
}

func (t *Tracker) onStarted(ev event.DomainEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracking = true
	t.estimatedTokens = 0
	if m, ok := ev.Payload["model"].(string); ok {
		t.model = m
	}
}

func (t *Tracker) onToken(ev event.DomainEvent) {
	t.mu.Lock()
	t.estimatedTokens++
	var out []event.DomainEvent
	if t.estimatedTokens%t.opts.EstimateInterval == 0 {
		out = t.budgetEventsLocked(t.estimateLocked(), ev.ConversationID)
	}
	t.mu.Unlock()

	// Emit after unlocking so a budget observer may call back into the
	// tracker without deadlocking.
	for _, e := range out {
		t.bus.Emit(e)
	}
}

func (t *Tracker) onCompleted(ev event.DomainEvent) {
	usage, ok := ev.Payload["usage"].(model.TokenUsage)
	if !ok {
		return
	}

	t.mu.Lock()
	price, known := t.pricing.ModelPrice(t.model)
	if known {
		t.accumulated = t.accumulated.Add(usage.Cost(price.Prompt, price.Completion))
	}
	t.tracking = false
	metrics.SetAccumulatedCost(t.accumulated.InexactFloat64())

	// Reconciliation: the streaming estimate may have drifted, so re-check
	// against the authoritative total.
	var out []event.DomainEvent
	if t.opts.BudgetLimit != nil && t.accumulated.GreaterThan(*t.opts.BudgetLimit) {
		out = append(out, t.exceededEventLocked(ev.ConversationID))
	}
	t.mu.Unlock()

	for _, e := range out {
		t.bus.Emit(e)
	}
}

// estimateLocked computes the rough cost of the tokens streamed so far.
// Caller must hold the mutex.
func (t *Tracker) estimateLocked() decimal.Decimal {
	price, ok := t.pricing.ModelPrice(t.model)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(t.estimatedTokens)).
		Div(decimal.NewFromInt(1000)).
		Mul(price.Completion)
}

// budgetEventsLocked compares accumulated plus the estimate against the limit
// and builds the matching budget events. Caller must hold the mutex; the
// events are emitted by the caller after unlocking.
func (t *Tracker) budgetEventsLocked(estimate decimal.Decimal, conversationID string) []event.DomainEvent {
	if t.opts.BudgetLimit == nil {
		return nil
	}

	limit := *t.opts.BudgetLimit
	projected := t.accumulated.Add(estimate)

	if projected.GreaterThan(limit) {
		return []event.DomainEvent{t.exceededEventLocked(conversationID)}
	}
	if projected.GreaterThan(limit.Mul(t.opts.ThresholdRatio)) {
		metrics.BudgetEventsTotal.WithLabelValues("threshold").Inc()
		return []event.DomainEvent{{
			Type:           event.BudgetThreshold,
			ConversationID: conversationID,
			Payload: map[string]any{
				"accumulated": t.accumulated.String(),
				"limit":       limit.String(),
			},
		}}
	}
	return nil
}

func (t *Tracker) exceededEventLocked(conversationID string) event.DomainEvent {
	metrics.BudgetEventsTotal.WithLabelValues("exceeded").Inc()
	payload := map[string]any{"accumulated": t.accumulated.String()}
	if t.opts.BudgetLimit != nil {
		payload["limit"] = t.opts.BudgetLimit.String()
	}
	return event.DomainEvent{
		Type:           event.BudgetExceeded,
		ConversationID: conversationID,
		Payload:        payload,
	}
}

// Accumulated returns the exact accumulated cost.
func (t *Tracker) Accumulated() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accumulated
}

// BudgetLimit returns the configured limit, or nil when unlimited.
func (t *Tracker) BudgetLimit() *decimal.Decimal {
	return t.opts.BudgetLimit
}

// Tracking reports whether a message is currently streaming.
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// Reset zeroes the accumulated cost.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accumulated = decimal.Zero
	metrics.SetAccumulatedCost(0)
}
