package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	cause := errors.New("boom")

	cases := []struct {
		err  error
		kind Kind
		code string
	}{
		{CircuitOpen(time.Second), KindCircuitOpen, "circuit_open"},
		{RateLimited(time.Second), KindRateLimited, "rate_limit_exceeded"},
		{Upstream("stream failed", cause), KindUpstream, "upstream_error"},
		{Validation("bad input"), KindValidation, "validation_error"},
		{NotFound("no such conversation"), KindNotFound, "not_found"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err))
		assert.True(t, IsKind(tc.err, tc.kind))
		assert.Equal(t, tc.code, tc.kind.String())
	}
}

func TestForeignErrors(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.False(t, IsKind(err, KindUpstream))
	assert.Equal(t, time.Duration(0), RetryAfter(err))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryAfterSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handling request: %w", RateLimited(3*time.Second))
	assert.True(t, IsKind(err, KindRateLimited))
	assert.Equal(t, 3*time.Second, RetryAfter(err))
}

func TestUpstreamUnwrapsToCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream("stream failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "upstream_error")
}
