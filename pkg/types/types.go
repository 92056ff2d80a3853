package types

import "time"

// OrderSide identifies the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the normalized outcome of a placed order. Rejections are
// ordinary statuses, not errors.
type OrderStatus string

const (
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderError           OrderStatus = "ERROR"
)

// OHLCV is a single candle in the common shape all venues normalize into.
type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Balance is a venue account balance for one asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Position is an open holding. Positions are the unit counted against
// tier position caps.
type Position struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
	USDValue   float64
	OpenedAt   time.Time
}

// OrderIntent is a trade idea entering the gateway. Intents are immutable
// and consumed exactly once by the gate chain. ForceLiquidate marks
// emergency exits that must bypass all validation.
type OrderIntent struct {
	AccountID      string
	VenueID        string
	Symbol         string
	Side           OrderSide
	RequestedUSD   float64
	ForceLiquidate bool
	Reason         string
}

// GateResult records one gate's verdict on a buy intent.
type GateResult struct {
	Gate    string
	Passed  bool
	Message string
}

// ValidatedOrder is an OrderIntent after the gate chain. An order with
// Approved=false must never reach a venue adapter.
type ValidatedOrder struct {
	Intent      OrderIntent
	AdjustedUSD float64
	Approved    bool
	Gates       []GateResult
	Reason      string
}

// OrderResult is the normalized result of placing an order on a venue.
type OrderResult struct {
	Status    OrderStatus
	OrderID   string
	FillPrice float64
	FilledUSD float64
	Message   string
}

// TradeRecord is emitted for every filled or rejected order and consumed
// by external analytics.
type TradeRecord struct {
	ID          string
	AccountID   string
	VenueID     string
	Symbol      string
	Side        OrderSide
	SizeUSD     float64
	FillPrice   float64
	Fees        float64
	PnL         float64
	ReasonCode  string
	SubmittedAt time.Time
	CompletedAt time.Time
}
