// Package ratelimit implements a token-bucket throttle for outbound LLM calls.
//
// The bucket is replenished lazily on every access instead of by a background
// timer: recomputing from the elapsed time keeps the limiter free of extra
// goroutines and deterministic under an injected clock.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/guardrail-ai/llm-gateway/internal/fault"
)

const (
	DefaultRequestsPerMinute = 20
	DefaultBurstSize         = 5
)

// Config holds the limiter parameters. Both values must be positive.
type Config struct {
	RequestsPerMinute float64
	BurstSize         int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return errors.New("ratelimit: requests per minute must be positive")
	}
	if c.BurstSize <= 0 {
		return errors.New("ratelimit: burst size must be positive")
	}
	return nil
}

// DefaultConfig returns the default limiter parameters.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: DefaultRequestsPerMinute,
		BurstSize:         DefaultBurstSize,
	}
}

// Limiter is a thread-safe token bucket. The invariant
// 0 <= tokens <= BurstSize holds at every observation point.
type Limiter struct {
	cfg Config

	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time

	now func() time.Time
}

// New creates a limiter, returning an error for invalid configuration.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:    cfg,
		tokens: float64(cfg.BurstSize),
		now:    time.Now,
	}
	l.lastUpdate = l.now()
	return l, nil
}

// replenish adds tokens for the elapsed time. Caller must hold the mutex.
func (l *Limiter) replenish() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.tokens = min(float64(l.cfg.BurstSize), l.tokens+(l.cfg.RequestsPerMinute/60.0)*elapsed)
	l.lastUpdate = now
}

// Acquire takes one token or fails with a rate-limit fault carrying the time
// until the next token. It never blocks; the caller decides whether to sleep
// or abort.
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replenish()

	if l.tokens < 1 {
		return fault.RateLimited(l.waitTimeLocked())
	}
	l.tokens--
	return nil
}

// TryAcquire takes one token if available, reporting whether it did.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replenish()

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// AvailableTokens returns the current token count after replenishment.
func (l *Limiter) AvailableTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replenish()
	return l.tokens
}

// WaitTime returns the time until the next token becomes available, or zero
// when a token is already available.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replenish()
	return l.waitTimeLocked()
}

// waitTimeLocked computes the wait for one token. Caller must hold the mutex.
func (l *Limiter) waitTimeLocked() time.Duration {
	if l.tokens >= 1 {
		return 0
	}
	secondsPerToken := 60.0 / l.cfg.RequestsPerMinute
	needed := 1 - l.tokens
	return time.Duration(needed * secondsPerToken * float64(time.Second))
}

// Reset restores the bucket to full capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = float64(l.cfg.BurstSize)
	l.lastUpdate = l.now()
}
