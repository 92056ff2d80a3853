package risk

import (
	"math"
	"sync"
	"time"
)

type equitySample struct {
	value float64
	at    time.Time
}

// EquityTracker records portfolio equity snapshots and derives the
// realized volatility and drawdown that drive the state machine.
type EquityTracker struct {
	window int

	mu      sync.Mutex
	samples []equitySample
	peak    float64
}

// NewEquityTracker keeps up to window samples for volatility.
func NewEquityTracker(window int) *EquityTracker {
	if window < 2 {
		window = 32
	}
	return &EquityTracker{window: window}
}

// Record adds an equity observation. Zero and negative values are
// ignored so a failed balance fetch cannot fake a drawdown.
func (t *EquityTracker) Record(equity float64) {
	if equity <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, equitySample{value: equity, at: time.Now()})
	if len(t.samples) > t.window {
		t.samples = t.samples[len(t.samples)-t.window:]
	}
	if equity > t.peak {
		t.peak = equity
	}
}

// Volatility returns the standard deviation of per-sample returns.
func (t *EquityTracker) Volatility() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(t.samples)-1)
	for i := 1; i < len(t.samples); i++ {
		prev := t.samples[i-1].value
		if prev == 0 {
			continue
		}
		returns = append(returns, (t.samples[i].value-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// Drawdown returns the fractional decline from the recorded peak.
func (t *EquityTracker) Drawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peak == 0 || len(t.samples) == 0 {
		return 0
	}
	current := t.samples[len(t.samples)-1].value
	if current >= t.peak {
		return 0
	}
	return (t.peak - current) / t.peak
}
