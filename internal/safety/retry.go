package safety

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/quanthive/tradegate/internal/monitoring"
	"github.com/quanthive/tradegate/internal/venue"
)

// Retry schedule constants. Rate-limit and transient failures back off
// exponentially; 403-style cooldown penalties get a longer fixed-ish wait
// because venues impose them as penalties, not simple rate windows.
const (
	retryBaseDelay      = 5 * time.Second
	retryMaxDelay       = 60 * time.Second
	forbiddenBaseDelay  = 15 * time.Second
	forbiddenJitterSpan = 5 * time.Second
)

// DefaultMaxAttempts bounds every wrapped venue call.
const DefaultMaxAttempts = 3

// RetryController wraps venue calls with classified, differentiated
// backoff. Every venue call in the gateway goes through one of these; call
// sites never hand-roll their own retry loops.
type RetryController struct {
	MaxAttempts int

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryController creates a controller with the default attempt cap.
func NewRetryController() *RetryController {
	return &RetryController{
		MaxAttempts: DefaultMaxAttempts,
		sleep:       sleepCtx,
	}
}

// Do runs fn up to MaxAttempts times, backing off between attempts
// according to the failure classification. Permanent failures are surfaced
// immediately. The returned error after exhaustion wraps the last failure.
func (r *RetryController) Do(ctx context.Context, venueID string, fn func() error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		classified := venue.Classify(venueID, err)
		if !classified.Retryable() {
			return classified
		}
		if attempt == maxAttempts {
			break
		}

		monitoring.RecordRetry(venueID, classified.Kind.String())
		delay := BackoffFor(classified.Kind, attempt) + jitterFor(classified.Kind)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("retry attempts exhausted (%d): %w", maxAttempts, lastErr)
}

// BackoffFor returns the deterministic part of the delay before the retry
// following a failed attempt (1-based). Jitter is added separately.
func BackoffFor(kind venue.ErrorKind, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch kind {
	case venue.KindTemporarilyForbidden:
		return forbiddenBaseDelay
	default:
		delay := retryBaseDelay << (attempt - 1)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		return delay
	}
}

func jitterFor(kind venue.ErrorKind) time.Duration {
	if kind == venue.KindTemporarilyForbidden {
		return time.Duration(rand.Int63n(int64(forbiddenJitterSpan)))
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
