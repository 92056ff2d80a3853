package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quanthive/tradegate/internal/gates"
	"github.com/quanthive/tradegate/internal/logger"
	"github.com/quanthive/tradegate/internal/monitoring"
	"github.com/quanthive/tradegate/internal/notifications"
	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/internal/safety"
	"github.com/quanthive/tradegate/internal/tier"
	"github.com/quanthive/tradegate/internal/venue"
	"github.com/quanthive/tradegate/pkg/types"
)

const riskEvalInterval = 30 * time.Second

// Manager owns the accounts, their venue connections, and every
// worker. It routes intents, drives the portfolio risk evaluation
// cycle, and is the only component allowed to load credentials.
type Manager struct {
	riskEngine *risk.Engine
	tracker    *risk.EquityTracker
	tiers      *tier.Table
	spacer     *safety.CallSpacer
	retrier    *safety.RetryController
	breakerCfg safety.BreakerConfig
	settings   WorkerSettings
	notifier   notifications.Notifier
	records    chan types.TradeRecord

	mu       sync.RWMutex
	accounts map[string]*Account
	breakers map[string]*safety.BreakerSet // per account
	workers  map[string]*Worker            // accountID/venueID
	loggers  map[string]*logger.Logger
	running  bool

	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// ManagerOptions wires the manager's collaborators.
type ManagerOptions struct {
	RiskEngine *risk.Engine
	Tiers      *tier.Table
	Budgets    safety.RateBudgets
	BreakerCfg safety.BreakerConfig
	Retrier    *safety.RetryController
	Settings   WorkerSettings
	Notifier   notifications.Notifier
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.RiskEngine == nil {
		opts.RiskEngine = risk.NewEngine(risk.DefaultThresholds(), nil)
	}
	if opts.Tiers == nil {
		opts.Tiers = tier.DefaultTable()
	}
	if opts.Retrier == nil {
		opts.Retrier = safety.NewRetryController()
	}
	if opts.BreakerCfg.WindowSize == 0 {
		opts.BreakerCfg = safety.DefaultBreakerConfig()
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NopNotifier{}
	}
	return &Manager{
		riskEngine: opts.RiskEngine,
		tracker:    risk.NewEquityTracker(64),
		tiers:      opts.Tiers,
		spacer:     safety.NewCallSpacer(opts.Budgets),
		retrier:    opts.Retrier,
		breakerCfg: opts.BreakerCfg,
		settings:   opts.Settings,
		notifier:   opts.Notifier,
		records:    make(chan types.TradeRecord, 256),
		accounts:   make(map[string]*Account),
		breakers:   make(map[string]*safety.BreakerSet),
		workers:    make(map[string]*Worker),
		loggers:    make(map[string]*logger.Logger),
	}
}

// RiskEngine returns the portfolio risk engine.
func (m *Manager) RiskEngine() *risk.Engine {
	return m.riskEngine
}

// Records returns the trade record stream for downstream consumers.
func (m *Manager) Records() <-chan types.TradeRecord {
	return m.records
}

// AddAccount registers an account. The first master wins; a second
// master is an error.
func (m *Manager) AddAccount(id string, role Role) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; ok {
		return nil, fmt.Errorf("account %s already registered", id)
	}
	if role == RoleMaster {
		for _, a := range m.accounts {
			if a.Role == RoleMaster {
				return nil, fmt.Errorf("master account already registered (%s)", a.ID)
			}
		}
	}
	account := NewAccount(id, role)
	m.accounts[id] = account
	m.breakers[id] = safety.NewBreakerSet(m.breakerCfg)
	return account, nil
}

// Connect creates the (account, venue) connection and its worker. The
// credential is consumed here and never surfaces again.
func (m *Manager) Connect(accountID, venueID string, cred venue.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("unknown account %s", accountID)
	}

	adapter, err := venue.NewAdapter(venueID, cred)
	if err != nil {
		return err
	}
	conn := &Connection{
		VenueID:   venueID,
		AccountID: accountID,
		Adapter:   adapter,
		Breaker:   m.breakers[accountID].GetOrCreate(venueID),
	}
	if err := account.AddConnection(conn); err != nil {
		return err
	}

	log, ok := m.loggers[accountID]
	if !ok {
		log, err = logger.NewLogger(accountID)
		if err != nil {
			return fmt.Errorf("logger for %s: %w", accountID, err)
		}
		m.loggers[accountID] = log
	}

	worker := NewWorker(account, conn, m.spacer, m.retrier, m.riskEngine,
		m.tiers, log, m.records, m.settings)
	m.workers[workerKey(accountID, venueID)] = worker
	return nil
}

func workerKey(accountID, venueID string) string {
	return accountID + "/" + venueID
}

// Start launches every worker and the risk evaluation loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.runCtx = ctx
	m.running = true
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		m.launch(ctx, w)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.riskLoop(ctx)
	}()
	return nil
}

func (m *Manager) launch(ctx context.Context, w *Worker) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.Run(ctx)
	}()
}

// Stop signals every worker, waits for them to finish their in-flight
// work, and closes the trade record stream.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	loggers := make([]*logger.Logger, 0, len(m.loggers))
	for _, l := range m.loggers {
		loggers = append(loggers, l)
	}
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	close(m.records)
	for _, l := range loggers {
		l.Close()
	}
}

// riskLoop periodically recomputes portfolio volatility and drawdown
// across all accounts and re-evaluates the risk posture.
func (m *Manager) riskLoop(ctx context.Context) {
	ticker := time.NewTicker(riskEvalInterval)
	defer ticker.Stop()
	prev := m.riskEngine.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		equity := 0.0
		m.mu.RLock()
		for _, a := range m.accounts {
			equity += a.Equity()
		}
		m.mu.RUnlock()

		m.tracker.Record(equity)
		state := m.riskEngine.Evaluate(m.tracker.Volatility(), m.tracker.Drawdown())
		monitoring.UpdateRiskState(riskStateValue(state))

		if state != prev {
			vol, dd := m.riskEngine.Metrics()
			level := notifications.LevelWarning
			if state == risk.StateCrisis || state == risk.StateEmergencyHalt {
				level = notifications.LevelError
			} else if state == risk.StateNormal {
				level = notifications.LevelSuccess
			}
			m.notifier.SendAlert(level, fmt.Sprintf(
				"Risk posture changed %s → %s (vol %.2f%%, drawdown %.2f%%)",
				prev, state, vol*100, dd*100))
			prev = state
		}
	}
}

func riskStateValue(state risk.State) float64 {
	switch state {
	case risk.StateNormal:
		return 0
	case risk.StateCautious:
		return 1
	case risk.StateStressed:
		return 2
	case risk.StateCrisis:
		return 3
	case risk.StateRecovery:
		return 4
	case risk.StateEmergencyHalt:
		return 5
	}
	return -1
}

// SubmitIntent routes an intent to its worker. Buy intents whose
// target venue has an open circuit fail over to the account's
// healthiest alternate venue; exits never take the failover detour.
func (m *Manager) SubmitIntent(intent types.OrderIntent) error {
	m.mu.RLock()
	account, ok := m.accounts[intent.AccountID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("unknown account %s", intent.AccountID)
	}
	if _, ok := account.Connection(intent.VenueID); !ok {
		m.mu.RUnlock()
		return fmt.Errorf("account %s has no connection to %s", intent.AccountID, intent.VenueID)
	}
	set := m.breakers[intent.AccountID]
	m.mu.RUnlock()

	venueID := intent.VenueID
	if !gates.Bypasses(intent) {
		if conn, _ := account.Connection(venueID); conn.Breaker.State() == safety.StateOpen {
			if best, ok := set.Best(account.Venues()); ok && best != venueID {
				intent.VenueID = best
				venueID = best
			}
		}
	}

	m.mu.RLock()
	worker, ok := m.workers[workerKey(intent.AccountID, venueID)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no worker for %s/%s", intent.AccountID, venueID)
	}
	return worker.Submit(intent)
}

// StartWorker restarts a stopped or disabled (account, venue) worker.
func (m *Manager) StartWorker(accountID, venueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("manager not running")
	}
	key := workerKey(accountID, venueID)
	current, ok := m.workers[key]
	if !ok {
		return fmt.Errorf("no worker for %s/%s", accountID, venueID)
	}
	if current.State() != WorkerDisabled {
		return fmt.Errorf("worker %s/%s already active (%s)", accountID, venueID, current.State())
	}

	account := m.accounts[accountID]
	conn, _ := account.Connection(venueID)
	conn.Breaker.Reset()
	worker := NewWorker(account, conn, m.spacer, m.retrier, m.riskEngine,
		m.tiers, m.loggers[accountID], m.records, m.settings)
	m.workers[key] = worker
	m.launch(m.runCtx, worker)
	return nil
}

// StopWorker disables one (account, venue) worker without touching any
// other worker.
func (m *Manager) StopWorker(accountID, venueID string) error {
	m.mu.RLock()
	worker, ok := m.workers[workerKey(accountID, venueID)]
	running := m.running
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no worker for %s/%s", accountID, venueID)
	}
	if !running {
		return fmt.Errorf("manager not running")
	}
	worker.Stop()
	return nil
}

// WorkerStatus describes one worker for the operator surface.
type WorkerStatus struct {
	AccountID string `json:"account_id"`
	VenueID   string `json:"venue_id"`
	State     string `json:"state"`
	LastError string `json:"last_error,omitempty"`
}

// WorkerStatuses returns the state of every worker.
func (m *Manager) WorkerStatuses() []WorkerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WorkerStatus, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, WorkerStatus{
			AccountID: w.account.ID,
			VenueID:   w.conn.VenueID,
			State:     string(w.State()),
			LastError: w.LastError(),
		})
	}
	return out
}

// VenueHealths returns per-account venue health for the operator
// surface.
func (m *Manager) VenueHealths() map[string][]safety.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]safety.HealthReport, len(m.breakers))
	for accountID, set := range m.breakers {
		out[accountID] = set.Healths()
	}
	return out
}
