// Package fault defines the closed set of error kinds used across the gateway.
// Callers classify failures by switching on Kind, never by inspecting type
// names or message text.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a category of failure.
type Kind int

const (
	// KindUnknown is the zero value; it should not be constructed directly.
	KindUnknown Kind = iota

	// KindCircuitOpen means the circuit breaker rejected the call before it
	// reached the upstream provider.
	KindCircuitOpen

	// KindRateLimited means the token bucket had no tokens available.
	KindRateLimited

	// KindUpstream wraps a failure from the LLM provider or its stream.
	KindUpstream

	// KindValidation means the request was malformed.
	KindValidation

	// KindNotFound means the referenced conversation does not exist.
	KindNotFound
)

// String returns the machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindCircuitOpen:
		return "circuit_open"
	case KindRateLimited:
		return "rate_limit_exceeded"
	case KindUpstream:
		return "upstream_error"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a tagged error variant. RetryAfter is meaningful only for
// KindCircuitOpen and KindRateLimited.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CircuitOpen builds a circuit-open rejection carrying the remaining wait.
func CircuitOpen(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Message:    fmt.Sprintf("circuit is open, retry after %s", retryAfter.Round(time.Millisecond)),
		RetryAfter: retryAfter,
	}
}

// RateLimited builds a rate-limit rejection carrying the retry delay.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %.1fs", retryAfter.Seconds()),
		RetryAfter: retryAfter,
	}
}

// Upstream wraps a provider or stream failure.
func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Cause: cause}
}

// Validation builds a request-validation failure.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound builds a missing-resource failure.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// KindOf extracts the kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// RetryAfter extracts the retry delay from err, or zero for foreign errors.
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
