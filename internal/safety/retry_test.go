package safety

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quanthive/tradegate/internal/venue"
)

func recordingController(delays *[]time.Duration) *RetryController {
	r := NewRetryController()
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return r
}

func TestBackoffScheduleRateLimited(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second}, // capped
		{9, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := BackoffFor(venue.KindRateLimited, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
		if got := BackoffFor(venue.KindTransientNetwork, tc.attempt); got != tc.want {
			t.Errorf("transient attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffScheduleForbidden(t *testing.T) {
	for attempt := 1; attempt <= 5; attempt++ {
		if got := BackoffFor(venue.KindTemporarilyForbidden, attempt); got != 15*time.Second {
			t.Errorf("attempt %d: got %s, want fixed 15s", attempt, got)
		}
	}
	for i := 0; i < 200; i++ {
		j := jitterFor(venue.KindTemporarilyForbidden)
		if j < 0 || j >= 5*time.Second {
			t.Fatalf("forbidden jitter %s outside [0, 5s)", j)
		}
	}
	if j := jitterFor(venue.KindRateLimited); j != 0 {
		t.Fatalf("rate-limited jitter must be zero, got %s", j)
	}
}

func TestDoExhaustsAfterMaxAttempts(t *testing.T) {
	var delays []time.Duration
	r := recordingController(&delays)

	calls := 0
	err := r.Do(context.Background(), "kraken", func() error {
		calls++
		return venue.NewVenueError("kraken", venue.KindRateLimited, "throttled")
	})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("sleep %d: got %s, want %s", i, delays[i], want[i])
		}
	}
	if !strings.Contains(err.Error(), "retry attempts exhausted (3)") {
		t.Fatalf("unexpected terminal error: %v", err)
	}
}

func TestDoForbiddenDelaysIncludeJitter(t *testing.T) {
	var delays []time.Duration
	r := recordingController(&delays)

	r.Do(context.Background(), "coinbase", func() error {
		return venue.NewVenueError("coinbase", venue.KindTemporarilyForbidden, "cooldown")
	})
	for _, d := range delays {
		if d < 15*time.Second || d >= 20*time.Second {
			t.Fatalf("forbidden delay %s outside [15s, 20s)", d)
		}
	}
}

func TestDoPermanentFailureIsNotRetried(t *testing.T) {
	var delays []time.Duration
	r := recordingController(&delays)

	calls := 0
	err := r.Do(context.Background(), "binance", func() error {
		calls++
		return venue.NewVenueError("binance", venue.KindPermanent, "bad signature")
	})
	if calls != 1 {
		t.Fatalf("permanent error must not retry, got %d calls", calls)
	}
	if len(delays) != 0 {
		t.Fatalf("permanent error must not sleep, slept %v", delays)
	}
	if venue.IsRetryable(err) {
		t.Fatal("terminal error must not be retryable")
	}
}

func TestDoCircuitOpenFailsFast(t *testing.T) {
	var delays []time.Duration
	r := recordingController(&delays)

	calls := 0
	err := r.Do(context.Background(), "okx", func() error {
		calls++
		return venue.ErrCircuitOpen("okx")
	})
	if calls != 1 || len(delays) != 0 {
		t.Fatalf("circuit-open must fail fast, calls=%d sleeps=%v", calls, delays)
	}
	if !venue.IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	var delays []time.Duration
	r := recordingController(&delays)

	calls := 0
	err := r.Do(context.Background(), "alpaca", func() error {
		calls++
		if calls == 1 {
			return venue.NewVenueError("alpaca", venue.KindTransientNetwork, "unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 || len(delays) != 1 {
		t.Fatalf("expected one retry, calls=%d sleeps=%v", calls, delays)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetryController()
	err := r.Do(ctx, "kraken", func() error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
