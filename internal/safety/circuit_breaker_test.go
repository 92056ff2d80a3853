package safety

import (
	"testing"
	"time"

	"github.com/quanthive/tradegate/internal/venue"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:          10,
		MinSuccessRate:      0.5,
		ConsecutiveFailures: 5,
		OpenTimeout:         20 * time.Millisecond,
	}
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	b := NewBreaker("kraken", testBreakerConfig())

	for i := 0; i < 4; i++ {
		b.RecordFailure(10 * time.Millisecond)
	}
	if b.State() != StateClosed {
		t.Fatalf("breaker tripped early at %d failures", 4)
	}
	b.RecordFailure(10 * time.Millisecond)
	if b.State() != StateOpen {
		t.Fatal("breaker must open at 5 consecutive failures")
	}
}

func TestBreakerTripsOnWindowSuccessRate(t *testing.T) {
	b := NewBreaker("coinbase", testBreakerConfig())

	// Alternate so consecutive failures never reach the threshold, but
	// fill the window to under 50% success.
	for i := 0; i < 4; i++ {
		b.RecordSuccess(time.Millisecond)
		b.RecordFailure(time.Millisecond)
	}
	b.RecordFailure(time.Millisecond)
	b.RecordFailure(time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("breaker must open below 50%% window success rate, state %s", b.State())
	}
}

func TestOpenBreakerFailsFastThenProbes(t *testing.T) {
	b := NewBreaker("binance", testBreakerConfig())
	b.ForceOpen()

	err := b.Allow()
	if err == nil {
		t.Fatal("open breaker must reject calls")
	}
	if !venue.IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	// One probe admitted, concurrent calls still rejected.
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe admission, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("second call during probe must be rejected")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := NewBreaker("okx", testBreakerConfig())
	b.ForceOpen()
	time.Sleep(25 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordSuccess(time.Millisecond)
	if b.State() != StateClosed {
		t.Fatalf("probe success must close the breaker, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker must admit calls, got %v", err)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("alpaca", testBreakerConfig())
	b.ForceOpen()
	time.Sleep(25 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.RecordFailure(time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("probe failure must reopen the breaker, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("reopened breaker must reject immediately")
	}
}

func TestHealthLevels(t *testing.T) {
	b := NewBreaker("kraken", testBreakerConfig())

	for i := 0; i < 10; i++ {
		b.RecordSuccess(time.Millisecond)
	}
	if h := b.Health(); h.Level != HealthHealthy {
		t.Fatalf("all-success breaker must be healthy, got %s", h.Level)
	}

	b.Reset()
	for i := 0; i < 7; i++ {
		b.RecordSuccess(time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		b.RecordFailure(time.Millisecond)
	}
	if h := b.Health(); h.Level != HealthDegraded {
		t.Fatalf("70%% success must be degraded, got %s (rate %.2f)", h.Level, h.SuccessRate)
	}

	b.ForceOpen()
	if h := b.Health(); h.Level != HealthUnhealthy {
		t.Fatalf("open breaker must be unhealthy, got %s", h.Level)
	}
}

func TestBreakerSetBestSkipsOpenCircuits(t *testing.T) {
	set := NewBreakerSet(testBreakerConfig())

	good := set.GetOrCreate("kraken")
	bad := set.GetOrCreate("coinbase")

	for i := 0; i < 5; i++ {
		good.RecordSuccess(time.Millisecond)
	}
	bad.ForceOpen()

	best, ok := set.Best([]string{"coinbase", "kraken"})
	if !ok || best != "kraken" {
		t.Fatalf("expected kraken, got %q (ok=%v)", best, ok)
	}

	good.ForceOpen()
	if _, ok := set.Best([]string{"coinbase", "kraken"}); ok {
		t.Fatal("no candidate should remain when every circuit is open")
	}
}

func TestBreakerSetHealths(t *testing.T) {
	set := NewBreakerSet(testBreakerConfig())
	set.GetOrCreate("kraken").RecordSuccess(time.Millisecond)
	set.GetOrCreate("binance").RecordFailure(time.Millisecond)

	reports := set.Healths()
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
}
