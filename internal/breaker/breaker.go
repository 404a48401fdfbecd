// Package breaker implements a circuit breaker for upstream LLM calls.
//
// The breaker has three states. Closed passes calls through while counting
// consecutive failures. Open rejects calls fast until the recovery timeout
// elapses. HalfOpen admits a single probe: success closes the circuit,
// failure re-opens it. The Open to HalfOpen transition is evaluated lazily on
// the next state check rather than by a timer.
package breaker

import (
	"sync"
	"time"

	"github.com/guardrail-ai/llm-gateway/internal/fault"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Breaker is a thread-safe circuit breaker. All state lives behind one mutex;
// the mutex is never held while a wrapped function runs.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time

	now func() time.Time
}

// New creates a breaker. Non-positive parameters fall back to defaults.
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            Closed,
		now:              time.Now,
	}
}

// CheckState verifies the circuit admits a call without executing anything.
// It is the entry point for externally driven streams: the caller checks
// state up front, iterates the stream itself, then reports the outcome via
// ReportSuccess or ReportFailure.
//
// When the circuit is Open and the recovery timeout has elapsed, CheckState
// transitions to HalfOpen and admits the call. Otherwise it returns a
// circuit-open fault carrying the remaining wait.
func (b *Breaker) CheckState() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailureTime)
	if elapsed > b.recoveryTimeout {
		b.state = HalfOpen
		return nil
	}
	return fault.CircuitOpen(b.recoveryTimeout - elapsed)
}

// Do executes fn with circuit protection. A success resets the failure
// count; a failure is recorded and the original error returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	if err := b.CheckState(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.ReportFailure()
		return err
	}
	b.ReportSuccess()
	return nil
}

// ReportSuccess records a successful call, closing the circuit.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = Closed
}

// ReportFailure records a failed call. Reaching the failure threshold, or
// failing while HalfOpen, opens the circuit.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailureTime = b.now()
	if b.failureCount >= b.failureThreshold || b.state == HalfOpen {
		b.state = Open
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive failure count since the last success.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
