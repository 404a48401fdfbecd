// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CircuitTransitions counts circuit breaker state transitions by the
	// state entered. Conversation IDs stay out of the label set; per-entity
	// labels grow without bound on a long-lived process.
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_transitions_total",
			Help: "Circuit breaker transitions by entered state",
		},
		[]string{"state"},
	)

	// CircuitRejections tracks calls rejected while the circuit was open.
	CircuitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_circuit_rejections_total",
			Help: "Calls rejected by an open circuit breaker",
		},
	)

	// RateLimitRejections tracks calls rejected by the token bucket.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Calls rejected by the rate limiter",
		},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// AccumulatedCost tracks the tracked spend in USD.
	AccumulatedCost = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_accumulated_cost_usd",
			Help: "Accumulated LLM spend in USD",
		},
	)

	// BudgetEventsTotal tracks emitted budget events by type.
	BudgetEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_budget_events_total",
			Help: "Budget threshold and exceeded events emitted",
		},
		[]string{"type"},
	)

	// MessagesTruncated tracks messages evicted by context truncation.
	MessagesTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_truncated_total",
			Help: "Messages dropped by context truncation",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Total messages sent",
		},
		[]string{"tenant_id", "role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordCircuitTransition records a breaker entering a new state.
func RecordCircuitTransition(state string) {
	CircuitTransitions.WithLabelValues(state).Inc()
}

// SetAccumulatedCost records the tracked spend.
func SetAccumulatedCost(usd float64) {
	AccumulatedCost.Set(usd)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
