package safety

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Operation identifies a venue call class for rate budgeting. Bulk listing
// gets the strictest budget; single-symbol lookups a looser one.
type Operation string

const (
	OpPlaceOrder   Operation = "place_order"
	OpCancelOrder  Operation = "cancel_order"
	OpGetBalance   Operation = "get_balance"
	OpGetPositions Operation = "get_positions"
	OpGetCandles   Operation = "get_candles"
	OpListSymbols  Operation = "list_symbols"
)

// RateBudgets holds the requests-per-minute budgets per operation class.
type RateBudgets struct {
	BulkPerMinute    int // ListSymbols and other whole-universe calls
	LookupPerMinute  int // single-symbol lookups (candles)
	DefaultPerMinute int // everything else
}

// DefaultRateBudgets mirrors the budgets most venues tolerate comfortably.
func DefaultRateBudgets() RateBudgets {
	return RateBudgets{
		BulkPerMinute:    5,
		LookupPerMinute:  15,
		DefaultPerMinute: 12,
	}
}

// maxJitter decorrelates concurrent workers hitting the same venue so they
// never synchronize into bursts.
const maxJitter = 100 * time.Millisecond

// CallSpacer enforces minimum spacing between calls per (venue, operation)
// key. Acquire blocks the caller until the venue's budget permits the next
// call, plus a small random jitter.
type CallSpacer struct {
	budgets  RateBudgets
	mu       sync.Mutex
	lastCall map[string]time.Time
}

// NewCallSpacer creates a spacer with the given budgets.
func NewCallSpacer(budgets RateBudgets) *CallSpacer {
	if budgets.BulkPerMinute <= 0 {
		budgets.BulkPerMinute = DefaultRateBudgets().BulkPerMinute
	}
	if budgets.LookupPerMinute <= 0 {
		budgets.LookupPerMinute = DefaultRateBudgets().LookupPerMinute
	}
	if budgets.DefaultPerMinute <= 0 {
		budgets.DefaultPerMinute = DefaultRateBudgets().DefaultPerMinute
	}
	return &CallSpacer{
		budgets:  budgets,
		lastCall: make(map[string]time.Time),
	}
}

// Interval returns the minimum spacing between calls for an operation.
func (s *CallSpacer) Interval(op Operation) time.Duration {
	perMinute := s.budgets.DefaultPerMinute
	switch op {
	case OpListSymbols:
		perMinute = s.budgets.BulkPerMinute
	case OpGetCandles:
		perMinute = s.budgets.LookupPerMinute
	}
	return time.Minute / time.Duration(perMinute)
}

// Acquire blocks until the next call for (venueID, op) is allowed under the
// budget, or until ctx is cancelled. The wait is the remaining part of the
// inter-call interval plus 0-100ms of jitter.
func (s *CallSpacer) Acquire(ctx context.Context, venueID string, op Operation) error {
	key := venueID + ":" + string(op)
	interval := s.Interval(op)

	s.mu.Lock()
	now := time.Now()
	wait := time.Duration(0)
	if last, ok := s.lastCall[key]; ok {
		if elapsed := now.Sub(last); elapsed < interval {
			wait = interval - elapsed
		}
	}
	if wait > 0 {
		wait += time.Duration(rand.Int63n(int64(maxJitter)))
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind each other instead of piling onto the same slot.
	s.lastCall[key] = now.Add(wait)
	s.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
