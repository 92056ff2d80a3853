package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		status    int
		wantKind  ErrorKind
		retryable bool
	}{
		{429, KindRateLimited, true},
		{403, KindTemporarilyForbidden, true},
		{500, KindTransientNetwork, true},
		{502, KindTransientNetwork, true},
		{503, KindTransientNetwork, true},
		{400, KindPermanent, false},
		{401, KindPermanent, false},
		{404, KindPermanent, false},
	}
	for _, tc := range cases {
		err := ClassifyHTTP("kraken", tc.status, "body")
		assert.Equal(t, tc.wantKind, err.Kind, "status %d", tc.status)
		assert.Equal(t, tc.retryable, err.Retryable(), "status %d", tc.status)
		assert.Equal(t, tc.status, err.HTTPStatus)
	}
}

func TestClassifyPassesThroughVenueError(t *testing.T) {
	orig := NewVenueError("okx", KindRateLimited, "throttled")
	got := Classify("coinbase", orig)
	require.Same(t, orig, got)
	assert.Equal(t, "okx", got.Venue)
}

func TestClassifyWrappedVenueError(t *testing.T) {
	orig := NewVenueError("okx", KindRateLimited, "throttled")
	got := Classify("okx", fmt.Errorf("placing order: %w", orig))
	require.Same(t, orig, got)
}

func TestClassifyByMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"rate limit exceeded", KindRateLimited},
		{"IP temporarily banned", KindTemporarilyForbidden},
		{"connection refused", KindTransientNetwork},
		{"unexpected EOF", KindTransientNetwork},
		{"invalid symbol FOO-USD", KindPermanent},
		{"insufficient funds", KindPermanent},
	}
	for _, tc := range cases {
		got := Classify("binance", errors.New(tc.msg))
		assert.Equal(t, tc.want, got.Kind, "message %q", tc.msg)
	}
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	got := Classify("alpaca", context.DeadlineExceeded)
	assert.Equal(t, KindTransientNetwork, got.Kind)
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify("kraken", nil))
}

func TestIsCircuitOpen(t *testing.T) {
	err := ErrCircuitOpen("coinbase")
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, IsCircuitOpen(NewVenueError("coinbase", KindPermanent, "nope")))
	assert.False(t, IsCircuitOpen(errors.New("plain")))
	assert.False(t, err.Retryable())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(NewVenueError("okx", KindRateLimited, "x")))
	assert.Equal(t, KindPermanent, KindOf(errors.New("plain")))
}

func TestIsRetryableOnWrappedError(t *testing.T) {
	base := NewVenueError("kraken", KindTransientNetwork, "timeout")
	assert.True(t, IsRetryable(fmt.Errorf("fetching candles: %w", base)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorStringIncludesStatus(t *testing.T) {
	err := ClassifyHTTP("kraken", 429, "slow down")
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Contains(t, err.Error(), "RATE_LIMITED")
}
