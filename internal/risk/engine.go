// Package risk implements the portfolio super-state machine that
// tightens or relaxes sizing limits from observed volatility and
// drawdown.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// State is the portfolio risk posture.
type State string

const (
	StateNormal        State = "NORMAL"
	StateCautious      State = "CAUTIOUS"
	StateStressed      State = "STRESSED"
	StateCrisis        State = "CRISIS"
	StateRecovery      State = "RECOVERY"
	StateEmergencyHalt State = "EMERGENCY_HALT"
)

// Limits are the sizing constraints a posture imposes on the gate chain.
type Limits struct {
	MaxPositionPct    float64
	MaxUtilizationPct float64
	AllowNewPositions bool
	RiskMultiplier    float64
}

// DefaultLimits returns the per-state limit table used when none is
// configured.
func DefaultLimits() map[State]Limits {
	return map[State]Limits{
		StateNormal:        {MaxPositionPct: 0.15, MaxUtilizationPct: 0.85, AllowNewPositions: true, RiskMultiplier: 1.0},
		StateCautious:      {MaxPositionPct: 0.12, MaxUtilizationPct: 0.75, AllowNewPositions: true, RiskMultiplier: 0.8},
		StateStressed:      {MaxPositionPct: 0.08, MaxUtilizationPct: 0.60, AllowNewPositions: false, RiskMultiplier: 0.5},
		StateCrisis:        {MaxPositionPct: 0.05, MaxUtilizationPct: 0.30, AllowNewPositions: false, RiskMultiplier: 0.25},
		StateRecovery:      {MaxPositionPct: 0.10, MaxUtilizationPct: 0.70, AllowNewPositions: true, RiskMultiplier: 0.7},
		StateEmergencyHalt: {MaxPositionPct: 0, MaxUtilizationPct: 0, AllowNewPositions: false, RiskMultiplier: 0},
	}
}

// Thresholds are the volatility/drawdown bands that drive automatic
// transitions. Values are fractions (0.03 means 3%).
type Thresholds struct {
	CautiousVol float64 // at or above: Cautious
	StressedVol float64 // at or above: Stressed
	CrisisVol   float64 // above: Crisis

	CautiousDrawdown float64
	StressedDrawdown float64
	CrisisDrawdown   float64

	// Consecutive normal-band evaluations required before Recovery
	// settles back to Normal.
	RecoverySettleCycles int
}

// DefaultThresholds returns the built-in transition bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CautiousVol:          0.03,
		StressedVol:          0.05,
		CrisisVol:            0.10,
		CautiousDrawdown:     0.05,
		StressedDrawdown:     0.15,
		CrisisDrawdown:       0.30,
		RecoverySettleCycles: 3,
	}
}

// Transition records one state change for operator visibility.
type Transition struct {
	From       State
	To         State
	Volatility float64
	Drawdown   float64
	Reason     string
	At         time.Time
}

// Engine is the portfolio risk state machine. One engine serves the
// whole process; workers read its posture, the manager drives its
// evaluation cycle.
type Engine struct {
	thresholds Thresholds
	limits     map[State]Limits

	mu           sync.RWMutex
	state        State
	volatility   float64
	drawdown     float64
	settleCount  int
	haltReason   string
	history      []Transition
}

// NewEngine creates an engine starting in the Normal state.
func NewEngine(thresholds Thresholds, limits map[State]Limits) *Engine {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Engine{
		thresholds: thresholds,
		limits:     limits,
		state:      StateNormal,
	}
}

// State returns the current posture.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Limits returns the sizing constraints of the current posture.
func (e *Engine) Limits() Limits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits[e.state]
}

// LimitsFor returns the constraints a given posture would impose.
func (e *Engine) LimitsFor(state State) Limits {
	return e.limits[state]
}

// Metrics returns the most recently observed volatility and drawdown.
func (e *Engine) Metrics() (volatility, drawdown float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.volatility, e.drawdown
}

// History returns a copy of the recorded transitions, oldest first.
func (e *Engine) History() []Transition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Transition, len(e.history))
	copy(out, e.history)
	return out
}

// classify maps freshly observed metrics to the posture they indicate,
// ignoring transition legality.
func (e *Engine) classify(vol, dd float64) State {
	t := e.thresholds
	switch {
	case vol > t.CrisisVol || dd > t.CrisisDrawdown:
		return StateCrisis
	case vol >= t.StressedVol || dd >= t.StressedDrawdown:
		return StateStressed
	case vol >= t.CautiousVol || dd >= t.CautiousDrawdown:
		return StateCautious
	default:
		return StateNormal
	}
}

// Evaluate recomputes the posture from fresh volatility and drawdown
// observations. It returns the resulting state. While halted the
// metrics are recorded but no automatic transition occurs.
func (e *Engine) Evaluate(volatility, drawdown float64) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volatility = volatility
	e.drawdown = drawdown

	if e.state == StateEmergencyHalt {
		return e.state
	}

	target := e.classify(volatility, drawdown)
	next := e.state

	switch e.state {
	case StateCrisis:
		// Crisis never relaxes directly; improvement goes through
		// Recovery first.
		if target != StateCrisis {
			next = StateRecovery
			e.settleCount = 0
		}
	case StateRecovery:
		switch target {
		case StateCrisis:
			next = StateCrisis
		case StateStressed:
			next = StateStressed
		case StateCautious:
			next = StateCautious
		case StateNormal:
			e.settleCount++
			if e.settleCount >= e.thresholds.RecoverySettleCycles {
				next = StateNormal
			}
		}
	default:
		next = target
	}

	if next != e.state {
		e.transition(next, fmt.Sprintf("vol=%.2f%% dd=%.2f%%", volatility*100, drawdown*100))
	}
	return e.state
}

// ForceHalt manually enters EmergencyHalt. Automatic evaluation cannot
// leave it.
func (e *Engine) ForceHalt(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateEmergencyHalt {
		return
	}
	e.haltReason = reason
	e.transition(StateEmergencyHalt, "manual halt: "+reason)
}

// ReleaseHalt manually leaves EmergencyHalt into Recovery, from which
// normal evaluation resumes. It returns an error when not halted.
func (e *Engine) ReleaseHalt() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEmergencyHalt {
		return fmt.Errorf("not halted (current state %s)", e.state)
	}
	e.haltReason = ""
	e.settleCount = 0
	e.transition(StateRecovery, "manual halt released")
	return nil
}

// HaltReason returns the operator-supplied reason while halted.
func (e *Engine) HaltReason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.haltReason
}

func (e *Engine) transition(to State, reason string) {
	e.history = append(e.history, Transition{
		From:       e.state,
		To:         to,
		Volatility: e.volatility,
		Drawdown:   e.drawdown,
		Reason:     reason,
		At:         time.Now(),
	})
	if len(e.history) > 200 {
		e.history = e.history[len(e.history)-200:]
	}
	e.state = to
	if to != StateRecovery {
		e.settleCount = 0
	}
}

// TransitionLegal reports whether a direct transition between two
// states is allowed by the machine's rules.
func TransitionLegal(from, to State) bool {
	if from == to {
		return true
	}
	switch {
	case to == StateEmergencyHalt:
		return true // manual entry allowed from anywhere
	case from == StateEmergencyHalt:
		return to == StateRecovery // manual release only
	case from == StateCrisis:
		return to == StateRecovery
	default:
		return true
	}
}
