package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quanthive/tradegate/internal/gates"
	"github.com/quanthive/tradegate/internal/logger"
	"github.com/quanthive/tradegate/internal/monitoring"
	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/internal/safety"
	"github.com/quanthive/tradegate/internal/tier"
	"github.com/quanthive/tradegate/internal/venue"
	"github.com/quanthive/tradegate/pkg/types"
)

// WorkerState is the lifecycle state of one (account, venue) worker.
type WorkerState string

const (
	WorkerIdle       WorkerState = "IDLE"
	WorkerConnecting WorkerState = "CONNECTING"
	WorkerPolling    WorkerState = "POLLING"
	WorkerDegraded   WorkerState = "DEGRADED"
	WorkerDisabled   WorkerState = "DISABLED"
)

const (
	symbolRefreshInterval = time.Hour
	degradedAfterFailures = 3
	disabledAfterFailures = 6
	defaultStopLossPct    = 0.10
	intentQueueSize       = 64
)

// WorkerSettings carries the per-worker tuning the manager derives
// from configuration.
type WorkerSettings struct {
	Cycle         time.Duration
	StaggerMax    time.Duration
	TypicalFeeUSD float64
	FeeMultiple   float64
	StopLossPct   float64
}

// Worker runs the trading cycle for one (account, venue) pair. It is
// the unit of failure isolation: nothing a worker does may touch
// another worker's state.
type Worker struct {
	account *Account
	conn    *Connection

	spacer     *safety.CallSpacer
	retrier    *safety.RetryController
	riskEngine *risk.Engine
	tiers      *tier.Table
	log        *logger.Logger
	records    chan<- types.TradeRecord
	settings   WorkerSettings

	exits chan types.OrderIntent
	buys  chan types.OrderIntent

	mu            sync.RWMutex
	state         WorkerState
	lastError     string
	cycleFailures int

	symbols   []string
	symbolsAt time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewWorker wires a worker for one account's venue connection.
func NewWorker(account *Account, conn *Connection, spacer *safety.CallSpacer,
	retrier *safety.RetryController, riskEngine *risk.Engine, tiers *tier.Table,
	log *logger.Logger, records chan<- types.TradeRecord, settings WorkerSettings) *Worker {
	if settings.Cycle <= 0 {
		settings.Cycle = 150 * time.Second
	}
	if settings.StopLossPct <= 0 {
		settings.StopLossPct = defaultStopLossPct
	}
	return &Worker{
		account:    account,
		conn:       conn,
		spacer:     spacer,
		retrier:    retrier,
		riskEngine: riskEngine,
		tiers:      tiers,
		log:        log,
		records:    records,
		settings:   settings,
		exits:      make(chan types.OrderIntent, intentQueueSize),
		buys:       make(chan types.OrderIntent, intentQueueSize),
		state:      WorkerIdle,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// LastError returns the most recent cycle error message, if any.
func (w *Worker) LastError() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *Worker) setState(to WorkerState, reason string) {
	w.mu.Lock()
	from := w.state
	w.state = to
	w.mu.Unlock()
	if from != to {
		w.log.LogWorkerState(w.conn.VenueID, string(from), string(to), reason)
	}
}

// Submit queues an intent for this worker. Exits go to a dedicated
// queue drained before any buying. Disabled workers accept nothing.
func (w *Worker) Submit(intent types.OrderIntent) error {
	if w.State() == WorkerDisabled {
		return fmt.Errorf("worker %s/%s is disabled", w.account.ID, w.conn.VenueID)
	}
	queue := w.buys
	if gates.Bypasses(intent) {
		queue = w.exits
	}
	select {
	case queue <- intent:
		return nil
	default:
		return fmt.Errorf("worker %s/%s intent queue full", w.account.ID, w.conn.VenueID)
	}
}

// Run drives the worker until the context is cancelled or the worker
// disables itself. Startup is staggered so workers hitting the same
// venue do not burst its rate limit together.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if w.settings.StaggerMax > 0 {
		delay := time.Duration(rand.Int63n(int64(w.settings.StaggerMax)))
		w.setState(WorkerIdle, fmt.Sprintf("staggered start in %s", delay.Round(time.Second)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			w.setState(WorkerDisabled, "shutdown before start")
			return
		}
	}

	w.setState(WorkerConnecting, "initial balance fetch")
	if err := w.refreshBalance(ctx); err != nil {
		w.log.Error("initial balance fetch on %s failed: %v", w.conn.VenueID, err)
	}
	w.setState(WorkerPolling, "entering trading cycle")

	ticker := time.NewTicker(w.settings.Cycle)
	defer ticker.Stop()

	for {
		w.runCycle(ctx)
		if w.State() == WorkerDisabled {
			return
		}
		select {
		case <-ctx.Done():
			w.setState(WorkerDisabled, "shutdown")
			return
		case intent := <-w.exits:
			// Exits do not wait for the next cycle tick.
			w.executeExit(ctx, intent)
		case <-ticker.C:
		}
	}
}

// Stop cancels the worker and waits for its loop to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

// runCycle performs one evaluation cycle. A panic in a cycle disables
// only this worker.
func (w *Worker) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.mu.Lock()
			w.lastError = fmt.Sprintf("panic: %v", r)
			w.mu.Unlock()
			w.log.Error("worker %s/%s panic: %v", w.account.ID, w.conn.VenueID, r)
			w.setState(WorkerDisabled, "unhandled panic")
			monitoring.RecordWorkerCycle(w.account.ID, w.conn.VenueID, "panic")
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, w.settings.Cycle)
	defer cancel()

	failed := false
	fail := func(stage string, err error) {
		failed = true
		w.mu.Lock()
		w.lastError = fmt.Sprintf("%s: %v", stage, err)
		w.mu.Unlock()
		w.log.Warning("cycle stage %s on %s: %v", stage, w.conn.VenueID, err)
	}

	// Position management always runs before new-position scanning.
	w.drainExits(cycleCtx)

	if err := w.refreshBalance(cycleCtx); err != nil {
		fail("balance", err)
	}
	if err := w.refreshPositions(cycleCtx); err != nil {
		fail("positions", err)
	}
	w.evaluateStopLosses(cycleCtx)
	w.drainExits(cycleCtx)

	if err := w.refreshSymbols(cycleCtx); err != nil {
		fail("symbols", err)
	}

	w.drainBuys(cycleCtx)

	w.mu.Lock()
	if failed {
		w.cycleFailures++
	} else {
		w.cycleFailures = 0
		w.lastError = ""
	}
	failures := w.cycleFailures
	w.mu.Unlock()

	switch {
	case failures >= disabledAfterFailures:
		w.setState(WorkerDisabled, fmt.Sprintf("%d consecutive failed cycles", failures))
		monitoring.RecordWorkerCycle(w.account.ID, w.conn.VenueID, "disabled")
	case failures >= degradedAfterFailures:
		w.setState(WorkerDegraded, fmt.Sprintf("%d consecutive failed cycles", failures))
		monitoring.RecordWorkerCycle(w.account.ID, w.conn.VenueID, "failed")
	case failed:
		monitoring.RecordWorkerCycle(w.account.ID, w.conn.VenueID, "failed")
	default:
		if w.State() == WorkerDegraded {
			w.setState(WorkerPolling, "cycle recovered")
		}
		monitoring.RecordWorkerCycle(w.account.ID, w.conn.VenueID, "ok")
	}
}

func (w *Worker) drainExits(ctx context.Context) {
	for {
		select {
		case intent := <-w.exits:
			w.executeExit(ctx, intent)
		default:
			return
		}
	}
}

func (w *Worker) drainBuys(ctx context.Context) {
	for {
		select {
		case intent := <-w.buys:
			w.processBuy(ctx, intent)
		default:
			return
		}
	}
}

// call wraps one venue operation in the full protection stack:
// circuit breaker, call spacing, then classified retries.
func (w *Worker) call(ctx context.Context, op safety.Operation, fn func(context.Context) error) error {
	if err := w.conn.Breaker.Allow(); err != nil {
		monitoring.RecordVenueCall(w.conn.VenueID, string(op), "circuit_open", 0)
		return err
	}
	if err := w.spacer.Acquire(ctx, w.conn.VenueID, op); err != nil {
		return err
	}
	start := time.Now()
	err := w.retrier.Do(ctx, w.conn.VenueID, func() error { return fn(ctx) })
	latency := time.Since(start)

	if err != nil {
		w.conn.Breaker.RecordFailure(latency)
		monitoring.RecordVenueCall(w.conn.VenueID, string(op), "error", latency)
	} else {
		w.conn.Breaker.RecordSuccess(latency)
		monitoring.RecordVenueCall(w.conn.VenueID, string(op), "ok", latency)
	}
	monitoring.UpdateCircuitState(w.account.ID, w.conn.VenueID, float64(w.conn.Breaker.State()))
	return err
}

func (w *Worker) refreshBalance(ctx context.Context) error {
	var balance *types.Balance
	err := w.call(ctx, safety.OpGetBalance, func(ctx context.Context) error {
		var err error
		balance, err = w.conn.Adapter.GetBalance(ctx)
		return err
	})
	if err != nil {
		return err
	}
	w.account.SetBalance(w.conn.VenueID, balance.Free)
	return nil
}

func (w *Worker) refreshPositions(ctx context.Context) error {
	var positions []types.Position
	err := w.call(ctx, safety.OpGetPositions, func(ctx context.Context) error {
		var err error
		positions, err = w.conn.Adapter.GetPositions(ctx)
		return err
	})
	if err != nil {
		return err
	}

	// Venue state is authoritative for quantity and value; locally
	// recorded entry prices survive the refresh.
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		seen[p.Symbol] = true
		if existing, ok := w.findPosition(p.Symbol); ok && existing.EntryPrice > 0 {
			p.EntryPrice = existing.EntryPrice
			p.OpenedAt = existing.OpenedAt
		}
		w.account.SetPosition(w.conn.VenueID, p)
	}
	for _, p := range w.account.Positions(w.conn.VenueID) {
		if !seen[p.Symbol] {
			w.account.RemovePosition(w.conn.VenueID, p.Symbol)
		}
	}
	return nil
}

func (w *Worker) findPosition(symbol string) (types.Position, bool) {
	for _, p := range w.account.Positions(w.conn.VenueID) {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return types.Position{}, false
}

// evaluateStopLosses queues a forced liquidation for any position that
// has fallen past the stop-loss from its recorded entry.
func (w *Worker) evaluateStopLosses(ctx context.Context) {
	for _, p := range w.account.Positions(w.conn.VenueID) {
		if p.EntryPrice <= 0 || p.Quantity <= 0 {
			continue
		}
		currentPrice := p.USDValue / p.Quantity
		drop := (p.EntryPrice - currentPrice) / p.EntryPrice
		if drop < w.settings.StopLossPct {
			continue
		}
		w.log.Warning("stop loss on %s %s: entry $%.4f current $%.4f (%.1f%% drop)",
			w.conn.VenueID, p.Symbol, p.EntryPrice, currentPrice, drop*100)
		w.executeExit(ctx, types.OrderIntent{
			AccountID:      w.account.ID,
			VenueID:        w.conn.VenueID,
			Symbol:         p.Symbol,
			Side:           types.SideSell,
			RequestedUSD:   p.USDValue,
			ForceLiquidate: true,
			Reason:         "stop_loss",
		})
	}
}

func (w *Worker) refreshSymbols(ctx context.Context) error {
	w.mu.RLock()
	stale := time.Since(w.symbolsAt) > symbolRefreshInterval || len(w.symbols) == 0
	w.mu.RUnlock()
	if !stale {
		return nil
	}

	var symbols []string
	err := w.call(ctx, safety.OpListSymbols, func(ctx context.Context) error {
		var err error
		symbols, err = w.conn.Adapter.ListSymbols(ctx)
		return err
	})
	if err != nil {
		// Terminal listing failure falls back to the curated static
		// universe rather than failing the whole cycle.
		if fallback, ok := venue.FallbackSymbols[w.conn.VenueID]; ok {
			w.log.Warning("symbol listing on %s failed, using %d curated symbols: %v",
				w.conn.VenueID, len(fallback), err)
			w.mu.Lock()
			w.symbols = fallback
			w.symbolsAt = time.Now()
			w.mu.Unlock()
			return nil
		}
		return err
	}
	w.mu.Lock()
	w.symbols = symbols
	w.symbolsAt = time.Now()
	w.mu.Unlock()
	return nil
}

// Symbols returns the worker's current tradable universe.
func (w *Worker) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.symbols))
	copy(out, w.symbols)
	return out
}

// processBuy pushes one buy intent through the hardening gate chain
// and places it on approval.
func (w *Worker) processBuy(ctx context.Context, intent types.OrderIntent) {
	balance := w.account.Balance(w.conn.VenueID)
	posture := w.riskEngine.Limits()
	rule := w.tiers.Lookup(balance)

	openUSD := 0.0
	for _, p := range w.account.AllPositions() {
		openUSD += p.USDValue
	}

	in := gates.Inputs{
		Intent:            intent,
		Positions:         w.account.Positions(w.conn.VenueID),
		Balance:           balance,
		OpenUSD:           openUSD,
		Equity:            w.account.Equity(),
		Rule:              rule,
		Posture:           posture,
		ScaledUSD:         intent.RequestedUSD * posture.RiskMultiplier,
		VenueMinUSD:       w.conn.Adapter.MinOrderUSD(),
		MinAvgPositionUSD: w.settings.FeeMultiple * w.settings.TypicalFeeUSD,
	}
	validated := gates.Validate(in)
	if !validated.Approved {
		failedGate := ""
		for _, g := range validated.Gates {
			if !g.Passed {
				failedGate = g.Gate
				break
			}
		}
		w.log.LogGateRejection(w.conn.VenueID, intent.Symbol, failedGate, validated.Reason, intent.RequestedUSD)
		monitoring.RecordGateRejection(w.conn.VenueID, failedGate)
		w.emitRecord(types.TradeRecord{
			ID:          uuid.NewString(),
			AccountID:   w.account.ID,
			VenueID:     w.conn.VenueID,
			Symbol:      intent.Symbol,
			Side:        intent.Side,
			SizeUSD:     intent.RequestedUSD,
			ReasonCode:  "gate:" + failedGate,
			SubmittedAt: time.Now(),
			CompletedAt: time.Now(),
		})
		return
	}

	w.placeOrder(ctx, intent, validated.AdjustedUSD)
}

func (w *Worker) placeOrder(ctx context.Context, intent types.OrderIntent, sizeUSD float64) {
	symbol := w.conn.Adapter.NormalizeSymbol(intent.Symbol)
	submitted := time.Now()
	w.log.Trade("submitting %s %s $%.2f on %s", intent.Side, symbol, sizeUSD, w.conn.VenueID)

	var result *types.OrderResult
	err := w.call(ctx, safety.OpPlaceOrder, func(ctx context.Context) error {
		var err error
		result, err = w.conn.Adapter.PlaceOrder(ctx, symbol, intent.Side, sizeUSD, venue.OrderTypeMarket)
		return err
	})
	if err != nil {
		w.log.Error("order %s %s $%.2f on %s failed: %v",
			intent.Side, symbol, sizeUSD, w.conn.VenueID, err)
		monitoring.RecordOrder(w.conn.VenueID, string(intent.Side), "error", sizeUSD)
		w.emitRecord(types.TradeRecord{
			ID:          uuid.NewString(),
			AccountID:   w.account.ID,
			VenueID:     w.conn.VenueID,
			Symbol:      intent.Symbol,
			Side:        intent.Side,
			SizeUSD:     sizeUSD,
			ReasonCode:  "venue_error",
			SubmittedAt: submitted,
			CompletedAt: time.Now(),
		})
		return
	}

	monitoring.RecordOrder(w.conn.VenueID, string(intent.Side), string(result.Status), sizeUSD)

	switch result.Status {
	case types.OrderFilled, types.OrderPartiallyFilled:
		w.log.LogOrderExecution(w.conn.VenueID, symbol, string(intent.Side), result.OrderID, sizeUSD, result.FillPrice)
		if intent.Side == types.SideBuy && result.FillPrice > 0 {
			w.account.SetPosition(w.conn.VenueID, types.Position{
				Symbol:     intent.Symbol,
				Quantity:   sizeUSD / result.FillPrice,
				EntryPrice: result.FillPrice,
				USDValue:   sizeUSD,
				OpenedAt:   time.Now(),
			})
		}
		w.emitRecord(types.TradeRecord{
			ID:          uuid.NewString(),
			AccountID:   w.account.ID,
			VenueID:     w.conn.VenueID,
			Symbol:      intent.Symbol,
			Side:        intent.Side,
			SizeUSD:     sizeUSD,
			FillPrice:   result.FillPrice,
			ReasonCode:  intent.Reason,
			SubmittedAt: submitted,
			CompletedAt: time.Now(),
		})
	default:
		w.log.Warning("order %s %s $%.2f on %s not filled: %s %s",
			intent.Side, symbol, sizeUSD, w.conn.VenueID, result.Status, result.Message)
		w.emitRecord(types.TradeRecord{
			ID:          uuid.NewString(),
			AccountID:   w.account.ID,
			VenueID:     w.conn.VenueID,
			Symbol:      intent.Symbol,
			Side:        intent.Side,
			SizeUSD:     sizeUSD,
			ReasonCode:  "venue_rejected",
			SubmittedAt: submitted,
			CompletedAt: time.Now(),
		})
	}
}

// executeExit places a sell immediately. Exits bypass the gate chain
// and are blocked only by an open circuit.
func (w *Worker) executeExit(ctx context.Context, intent types.OrderIntent) {
	position, ok := w.findPosition(intent.Symbol)
	size := intent.RequestedUSD
	if ok && (size <= 0 || intent.ForceLiquidate) {
		size = position.USDValue
	}
	if size <= 0 {
		w.log.Warning("exit for %s on %s has no position and no size, dropping",
			intent.Symbol, w.conn.VenueID)
		return
	}

	symbol := w.conn.Adapter.NormalizeSymbol(intent.Symbol)
	submitted := time.Now()
	w.log.Trade("submitting exit %s $%.2f on %s", symbol, size, w.conn.VenueID)

	var result *types.OrderResult
	err := w.call(ctx, safety.OpPlaceOrder, func(ctx context.Context) error {
		var err error
		result, err = w.conn.Adapter.PlaceOrder(ctx, symbol, types.SideSell, size, venue.OrderTypeMarket)
		return err
	})
	if err != nil {
		w.log.Error("exit %s $%.2f on %s failed: %v", symbol, size, w.conn.VenueID, err)
		monitoring.RecordOrder(w.conn.VenueID, string(types.SideSell), "error", size)
		return
	}

	monitoring.RecordOrder(w.conn.VenueID, string(types.SideSell), string(result.Status), size)
	if result.Status != types.OrderFilled && result.Status != types.OrderPartiallyFilled {
		w.log.Warning("exit %s $%.2f on %s not filled: %s", symbol, size, w.conn.VenueID, result.Message)
		return
	}

	pnl := 0.0
	if ok && position.EntryPrice > 0 && result.FillPrice > 0 {
		pnl = (result.FillPrice - position.EntryPrice) * position.Quantity
	}
	if result.Status == types.OrderFilled {
		w.account.RemovePosition(w.conn.VenueID, intent.Symbol)
	}
	w.log.LogOrderExecution(w.conn.VenueID, symbol, string(types.SideSell), result.OrderID, size, result.FillPrice)

	reason := intent.Reason
	if reason == "" {
		reason = "exit"
	}
	w.emitRecord(types.TradeRecord{
		ID:          uuid.NewString(),
		AccountID:   w.account.ID,
		VenueID:     w.conn.VenueID,
		Symbol:      intent.Symbol,
		Side:        types.SideSell,
		SizeUSD:     size,
		FillPrice:   result.FillPrice,
		PnL:         pnl,
		ReasonCode:  reason,
		SubmittedAt: submitted,
		CompletedAt: time.Now(),
	})
}

func (w *Worker) emitRecord(record types.TradeRecord) {
	select {
	case w.records <- record:
	default:
		w.log.Warning("trade record channel full, dropping record %s", record.ID)
	}
}
