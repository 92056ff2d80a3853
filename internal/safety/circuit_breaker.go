package safety

import (
	"sync"
	"time"

	"github.com/quanthive/tradegate/internal/venue"
)

// CircuitState represents the state of a venue's circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// HealthLevel is the coarse operator-facing score for a venue.
type HealthLevel string

const (
	HealthHealthy   HealthLevel = "HEALTHY"
	HealthDegraded  HealthLevel = "DEGRADED"
	HealthUnhealthy HealthLevel = "UNHEALTHY"
)

// BreakerConfig holds trip thresholds for a circuit breaker.
type BreakerConfig struct {
	WindowSize          int           // rolling call window for success rate
	MinSuccessRate      float64       // trip below this over a full window
	ConsecutiveFailures int           // trip at this many failures in a row
	OpenTimeout         time.Duration // wait before half-open probing
}

// DefaultBreakerConfig returns the thresholds used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:          20,
		MinSuccessRate:      0.5,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// HealthReport is the snapshot exposed to operators and to venue
// failover selection.
type HealthReport struct {
	Name                string
	State               CircuitState
	Level               HealthLevel
	SuccessRate         float64
	AvgLatencyMS        float64
	ConsecutiveFailures int
	Calls               int
}

// Breaker is a per-connection circuit breaker with rolling health
// tracking. Closed passes calls through, Open fails them fast without
// touching the network, HalfOpen lets a single probe through.
type Breaker struct {
	name   string
	config BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	outcomes      []bool // ring buffer of recent call outcomes
	latencies     []time.Duration
	next          int
	filled        bool
	consecFails   int
	nextProbe     time.Time
	probeInFlight bool
}

// NewBreaker creates a breaker for one named connection.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.WindowSize <= 0 {
		config = DefaultBreakerConfig()
	}
	return &Breaker{
		name:      name,
		config:    config,
		state:     StateClosed,
		outcomes:  make([]bool, config.WindowSize),
		latencies: make([]time.Duration, config.WindowSize),
	}
}

// Allow reports whether a call may proceed. While open it returns a
// classified circuit-open error; when the open timeout has elapsed it
// admits exactly one probe and moves to half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return venue.ErrCircuitOpen(b.name)
		}
		b.probeInFlight = true
		return nil
	case StateOpen:
		if time.Now().After(b.nextProbe) {
			b.state = StateHalfOpen
			b.probeInFlight = true
			return nil
		}
		return venue.ErrCircuitOpen(b.name)
	}
	return venue.ErrCircuitOpen(b.name)
}

// RecordSuccess records a successful call and its latency.
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(true, latency)
	b.consecFails = 0

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probeInFlight = false
	}
}

// RecordFailure records a failed call and trips the breaker when the
// thresholds are crossed.
func (b *Breaker) RecordFailure(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(false, latency)
	b.consecFails++

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		if b.consecFails >= b.config.ConsecutiveFailures {
			b.trip()
			return
		}
		if b.filled && b.successRate() < b.config.MinSuccessRate {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.probeInFlight = false
	b.nextProbe = time.Now().Add(b.config.OpenTimeout)
}

func (b *Breaker) record(ok bool, latency time.Duration) {
	b.outcomes[b.next] = ok
	b.latencies[b.next] = latency
	b.next++
	if b.next == len(b.outcomes) {
		b.next = 0
		b.filled = true
	}
}

func (b *Breaker) count() int {
	if b.filled {
		return len(b.outcomes)
	}
	return b.next
}

func (b *Breaker) successRate() float64 {
	n := b.count()
	if n == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < n; i++ {
		if b.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

func (b *Breaker) avgLatency() time.Duration {
	n := b.count()
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += b.latencies[i]
	}
	return total / time.Duration(n)
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceOpen trips the breaker regardless of recorded outcomes.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip()
}

// Reset returns the breaker to closed and clears its window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.next = 0
	b.filled = false
	b.consecFails = 0
	b.probeInFlight = false
}

// Health returns the current health snapshot.
func (b *Breaker) Health() HealthReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	rate := b.successRate()
	avg := b.avgLatency()

	level := HealthHealthy
	switch {
	case b.state == StateOpen || rate < b.config.MinSuccessRate:
		level = HealthUnhealthy
	case rate < 0.8 || avg > 2*time.Second:
		level = HealthDegraded
	}

	return HealthReport{
		Name:                b.name,
		State:               b.state,
		Level:               level,
		SuccessRate:         rate,
		AvgLatencyMS:        float64(avg) / float64(time.Millisecond),
		ConsecutiveFailures: b.consecFails,
		Calls:               b.count(),
	}
}

// BreakerSet manages the breakers for one account's venue connections.
type BreakerSet struct {
	config   BreakerConfig
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set sharing one config.
func NewBreakerSet(config BreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker for a name, creating it on first use.
func (s *BreakerSet) GetOrCreate(name string) *Breaker {
	s.mu.RLock()
	if b, ok := s.breakers[name]; ok {
		s.mu.RUnlock()
		return b
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, s.config)
	s.breakers[name] = b
	return b
}

// Healths returns health snapshots for every breaker in the set.
func (s *BreakerSet) Healths() []HealthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]HealthReport, 0, len(s.breakers))
	for _, b := range s.breakers {
		reports = append(reports, b.Health())
	}
	return reports
}

// Best returns the healthiest of the named breakers, preferring higher
// success rate and lower latency, skipping open circuits. The second
// return is false when every candidate is open or unknown.
func (s *BreakerSet) Best(names []string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bestName := ""
	var bestRate float64 = -1
	var bestLatency float64
	for _, name := range names {
		b, ok := s.breakers[name]
		if !ok {
			// Unknown connections count as fresh and healthy.
			if bestName == "" {
				bestName = name
				bestRate = 1.0
				bestLatency = 0
			}
			continue
		}
		h := b.Health()
		if h.State == StateOpen {
			continue
		}
		if h.SuccessRate > bestRate || (h.SuccessRate == bestRate && h.AvgLatencyMS < bestLatency) {
			bestName = name
			bestRate = h.SuccessRate
			bestLatency = h.AvgLatencyMS
		}
	}
	return bestName, bestName != ""
}
