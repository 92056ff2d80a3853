package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanthive/tradegate/internal/logger"
	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/internal/safety"
	"github.com/quanthive/tradegate/internal/tier"
	"github.com/quanthive/tradegate/internal/venue"
	"github.com/quanthive/tradegate/pkg/types"
)

type placedOrder struct {
	Symbol  string
	Side    types.OrderSide
	SizeUSD float64
}

// fakeAdapter is an in-memory venue.Adapter for worker tests. When
// failAll is set every call returns a permanent error so the retry
// controller never sleeps.
type fakeAdapter struct {
	name string

	mu        sync.Mutex
	failAll   bool
	balance   float64
	positions []types.Position
	symbols   []string
	fillPrice float64
	placed    []placedOrder
	calls     int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:      name,
		balance:   400,
		symbols:   []string{"BTC-USD", "ETH-USD"},
		fillPrice: 100,
	}
}

func (f *fakeAdapter) fail() error {
	f.calls++
	if f.failAll {
		return venue.NewVenueError(f.name, venue.KindPermanent, "injected failure")
	}
	return nil
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType venue.OrderType) (*types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.placed = append(f.placed, placedOrder{Symbol: symbol, Side: side, SizeUSD: usdSize})
	return &types.OrderResult{
		Status:    types.OrderFilled,
		OrderID:   fmt.Sprintf("order-%d", len(f.placed)),
		FillPrice: f.fillPrice,
	}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail()
}

func (f *fakeAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return &types.Balance{Asset: "USD", Free: f.balance}, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	out := make([]types.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.symbols, nil
}

func (f *fakeAdapter) NormalizeSymbol(symbol string) string { return symbol }
func (f *fakeAdapter) MinOrderUSD() float64                 { return 10 }
func (f *fakeAdapter) QuoteCurrency() string                { return "USD" }

func (f *fakeAdapter) placedOrders() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]placedOrder, len(f.placed))
	copy(out, f.placed)
	return out
}

func (f *fakeAdapter) setFailAll(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = v
}

// workerFor wires one worker onto an existing account with spacing
// tight enough for fast cycles.
func workerFor(t *testing.T, account *Account, adapter *fakeAdapter, settings WorkerSettings, records chan types.TradeRecord) *Worker {
	t.Helper()

	breaker := safety.NewBreaker(account.ID+"/"+adapter.name, safety.DefaultBreakerConfig())
	conn := &Connection{VenueID: adapter.name, AccountID: account.ID, Adapter: adapter, Breaker: breaker}
	require.NoError(t, account.AddConnection(conn))

	spacer := safety.NewCallSpacer(safety.RateBudgets{
		BulkPerMinute:    60000,
		LookupPerMinute:  60000,
		DefaultPerMinute: 60000,
	})
	riskEngine := risk.NewEngine(risk.DefaultThresholds(), risk.DefaultLimits())
	log, err := logger.NewLoggerAt(t.TempDir(), account.ID)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	if settings.TypicalFeeUSD == 0 {
		settings.TypicalFeeUSD = 5
	}
	if settings.FeeMultiple == 0 {
		settings.FeeMultiple = 1.5
	}
	return NewWorker(account, conn, spacer, safety.NewRetryController(),
		riskEngine, tier.DefaultTable(), log, records, settings)
}

// testWorker wires a worker against a fake adapter on a fresh account.
func testWorker(t *testing.T, accountID string, adapter *fakeAdapter, settings WorkerSettings) (*Worker, *Account, chan types.TradeRecord) {
	t.Helper()

	account := NewAccount(accountID, RoleUser)
	records := make(chan types.TradeRecord, 64)
	w := workerFor(t, account, adapter, settings, records)
	return w, account, records
}

func fastSettings() WorkerSettings {
	return WorkerSettings{Cycle: 15 * time.Millisecond, StaggerMax: 0}
}

func TestWorkerFailureIsolation(t *testing.T) {
	broken := newFakeAdapter("fake-a")
	broken.setFailAll(true)
	healthy := newFakeAdapter("fake-b")

	wA, _, _ := testWorker(t, "acct-a", broken, fastSettings())
	wB, acctB, _ := testWorker(t, "acct-b", healthy, fastSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wA.Run(ctx)
	go wB.Run(ctx)
	defer wB.Stop()
	defer wA.Stop()

	require.Eventually(t, func() bool {
		return wA.State() == WorkerDisabled
	}, 3*time.Second, 10*time.Millisecond, "failing worker should disable itself")

	assert.Equal(t, WorkerPolling, wB.State(), "healthy worker must be untouched")
	assert.Equal(t, 400.0, acctB.Balance("fake-b"))

	// The healthy worker keeps executing intents after its sibling died.
	require.NoError(t, wB.Submit(types.OrderIntent{
		AccountID:    "acct-b",
		VenueID:      "fake-b",
		Symbol:       "BTC-USD",
		Side:         types.SideBuy,
		RequestedUSD: 100,
	}))
	require.Eventually(t, func() bool {
		return len(healthy.placedOrders()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, broken.placedOrders())
}

func TestSubmitRoutesExitsSeparately(t *testing.T) {
	w, _, _ := testWorker(t, "acct-route", newFakeAdapter("fake-route"), fastSettings())

	require.NoError(t, w.Submit(types.OrderIntent{Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100}))
	require.NoError(t, w.Submit(types.OrderIntent{Symbol: "BTC-USD", Side: types.SideSell}))
	require.NoError(t, w.Submit(types.OrderIntent{Symbol: "ETH-USD", Side: types.SideBuy, ForceLiquidate: true}))

	assert.Equal(t, 1, len(w.buys))
	assert.Equal(t, 2, len(w.exits))
}

func TestSubmitRejectedWhenDisabled(t *testing.T) {
	w, _, _ := testWorker(t, "acct-disabled", newFakeAdapter("fake-disabled"), fastSettings())
	w.setState(WorkerDisabled, "test")

	err := w.Submit(types.OrderIntent{Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestSubmitQueueFull(t *testing.T) {
	w, _, _ := testWorker(t, "acct-full", newFakeAdapter("fake-full"), fastSettings())

	for i := 0; i < intentQueueSize; i++ {
		require.NoError(t, w.Submit(types.OrderIntent{Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100}))
	}
	err := w.Submit(types.OrderIntent{Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestProcessBuyPlacesApprovedOrder(t *testing.T) {
	adapter := newFakeAdapter("fake-buy")
	w, account, records := testWorker(t, "acct-buy", adapter, fastSettings())
	account.SetBalance("fake-buy", 400)

	w.processBuy(context.Background(), types.OrderIntent{
		AccountID:    "acct-buy",
		VenueID:      "fake-buy",
		Symbol:       "BTC-USD",
		Side:         types.SideBuy,
		RequestedUSD: 100,
		Reason:       "signal",
	})

	// The Normal posture ceiling (15% of $400) sits below the INVESTOR
	// floor (22%), so the clamp band collapses to the $88 floor.
	placed := adapter.placedOrders()
	require.Len(t, placed, 1)
	assert.InDelta(t, 88.0, placed[0].SizeUSD, 0.001)
	assert.Equal(t, types.SideBuy, placed[0].Side)

	positions := account.Positions("fake-buy")
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].EntryPrice)
	assert.InDelta(t, 0.88, positions[0].Quantity, 0.001)

	record := <-records
	assert.Equal(t, "signal", record.ReasonCode)
	assert.Equal(t, 100.0, record.FillPrice)
}

func TestBalanceScopedPerVenue(t *testing.T) {
	rich := newFakeAdapter("fake-rich")
	rich.balance = 5000
	poor := newFakeAdapter("fake-poor")
	poor.balance = 50

	account := NewAccount("acct-multi", RoleUser)
	records := make(chan types.TradeRecord, 64)
	wRich := workerFor(t, account, rich, fastSettings(), records)
	wPoor := workerFor(t, account, poor, fastSettings(), records)

	ctx := context.Background()
	require.NoError(t, wRich.refreshBalance(ctx))
	require.NoError(t, wPoor.refreshBalance(ctx))

	assert.Equal(t, 5000.0, account.Balance("fake-rich"))
	assert.Equal(t, 50.0, account.Balance("fake-poor"))

	// Sizing on the funded venue must read that venue's $5000, not the
	// sibling's $50, whichever refresh landed last.
	wRich.processBuy(ctx, types.OrderIntent{
		AccountID:    "acct-multi",
		VenueID:      "fake-rich",
		Symbol:       "BTC-USD",
		Side:         types.SideBuy,
		RequestedUSD: 600,
		Reason:       "signal",
	})

	placed := rich.placedOrders()
	require.Len(t, placed, 1)
	assert.InDelta(t, 600.0, placed[0].SizeUSD, 0.001)
	assert.Empty(t, poor.placedOrders())
}

func TestProcessBuyRejectsOverUtilization(t *testing.T) {
	adapter := newFakeAdapter("fake-util")
	w, account, records := testWorker(t, "acct-util", adapter, fastSettings())
	account.SetBalance("fake-util", 400)

	// Capital deployed on a sibling venue counts against the
	// account-wide utilization cap even though it never enters this
	// venue's position gates.
	account.SetPosition("fake-other", types.Position{
		Symbol: "ETH-USD", Quantity: 1, EntryPrice: 2000, USDValue: 2000,
	})

	w.processBuy(context.Background(), types.OrderIntent{
		AccountID:    "acct-util",
		VenueID:      "fake-util",
		Symbol:       "BTC-USD",
		Side:         types.SideBuy,
		RequestedUSD: 100,
	})

	assert.Empty(t, adapter.placedOrders())
	record := <-records
	assert.Equal(t, "gate:utilization_cap", record.ReasonCode)
}

func TestProcessBuyRecordsGateRejection(t *testing.T) {
	adapter := newFakeAdapter("fake-reject")
	w, account, records := testWorker(t, "acct-reject", adapter, fastSettings())
	account.SetBalance("fake-reject", 400)

	// $50 is below the 22% floor for a $400 balance.
	w.processBuy(context.Background(), types.OrderIntent{
		AccountID:    "acct-reject",
		VenueID:      "fake-reject",
		Symbol:       "BTC-USD",
		Side:         types.SideBuy,
		RequestedUSD: 50,
	})

	assert.Empty(t, adapter.placedOrders())
	record := <-records
	assert.Equal(t, "gate:minimum_size", record.ReasonCode)
}

func TestStopLossForcesLiquidation(t *testing.T) {
	adapter := newFakeAdapter("fake-stop")
	adapter.fillPrice = 85
	w, account, records := testWorker(t, "acct-stop", adapter, fastSettings())

	account.SetPosition("fake-stop", types.Position{
		Symbol:     "BTC-USD",
		Quantity:   1,
		EntryPrice: 100,
		USDValue:   85,
		OpenedAt:   time.Now().Add(-time.Hour),
	})

	w.evaluateStopLosses(context.Background())

	placed := adapter.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, types.SideSell, placed[0].Side)
	assert.Equal(t, 85.0, placed[0].SizeUSD)
	assert.Empty(t, account.Positions("fake-stop"))

	record := <-records
	assert.Equal(t, "stop_loss", record.ReasonCode)
	assert.InDelta(t, -15.0, record.PnL, 0.001)
}

func TestExitBlockedOnlyByOpenCircuit(t *testing.T) {
	adapter := newFakeAdapter("fake-exit")
	w, account, _ := testWorker(t, "acct-exit", adapter, fastSettings())

	account.SetPosition("fake-exit", types.Position{
		Symbol: "BTC-USD", Quantity: 1, EntryPrice: 100, USDValue: 95,
	})
	w.conn.Breaker.ForceOpen()

	w.executeExit(context.Background(), types.OrderIntent{
		Symbol: "BTC-USD", Side: types.SideSell, ForceLiquidate: true,
	})

	assert.Empty(t, adapter.placedOrders())
	require.Len(t, account.Positions("fake-exit"), 1)

	// Once the circuit resets, the same exit goes straight through.
	w.conn.Breaker.Reset()
	w.executeExit(context.Background(), types.OrderIntent{
		Symbol: "BTC-USD", Side: types.SideSell, ForceLiquidate: true,
	})
	require.Len(t, adapter.placedOrders(), 1)
	assert.Empty(t, account.Positions("fake-exit"))
}
