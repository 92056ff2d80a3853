package safety

import (
	"context"
	"testing"
	"time"
)

func TestIntervalPerOperationClass(t *testing.T) {
	s := NewCallSpacer(DefaultRateBudgets())

	if got := s.Interval(OpListSymbols); got != 12*time.Second {
		t.Errorf("bulk interval: got %s, want 12s", got)
	}
	if got := s.Interval(OpGetCandles); got != 4*time.Second {
		t.Errorf("lookup interval: got %s, want 4s", got)
	}
	if got := s.Interval(OpPlaceOrder); got != 5*time.Second {
		t.Errorf("default interval: got %s, want 5s", got)
	}
}

func TestAcquireSpacesConsecutiveCalls(t *testing.T) {
	s := NewCallSpacer(RateBudgets{
		BulkPerMinute:    1200, // 50ms interval
		LookupPerMinute:  1200,
		DefaultPerMinute: 1200,
	})

	const calls = 4
	interval := s.Interval(OpListSymbols)

	start := time.Now()
	for i := 0; i < calls; i++ {
		if err := s.Acquire(context.Background(), "kraken", OpListSymbols); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if min := time.Duration(calls-1) * interval; elapsed < min {
		t.Fatalf("%d calls completed in %s, need at least %s", calls, elapsed, min)
	}
}

func TestAcquireKeysAreIndependent(t *testing.T) {
	s := NewCallSpacer(RateBudgets{
		BulkPerMinute:    6, // 10s interval, long enough to detect blocking
		LookupPerMinute:  1200,
		DefaultPerMinute: 1200,
	})

	// First bulk call on one venue consumes its slot.
	if err := s.Acquire(context.Background(), "kraken", OpListSymbols); err != nil {
		t.Fatal(err)
	}

	// A different venue and a different operation must not wait for it.
	start := time.Now()
	if err := s.Acquire(context.Background(), "coinbase", OpListSymbols); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(context.Background(), "kraken", OpGetBalance); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("independent keys blocked for %s", elapsed)
	}
}

func TestAcquireCancellable(t *testing.T) {
	s := NewCallSpacer(RateBudgets{
		BulkPerMinute:    1, // 60s interval
		LookupPerMinute:  1,
		DefaultPerMinute: 1,
	})

	if err := s.Acquire(context.Background(), "kraken", OpListSymbols); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Acquire(ctx, "kraken", OpListSymbols)
	if err == nil {
		t.Fatal("expected cancellation while parked")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt the wait")
	}
}
