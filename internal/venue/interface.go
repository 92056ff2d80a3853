package venue

import (
	"context"

	"github.com/quanthive/tradegate/pkg/types"
)

// OrderType is the execution style requested from a venue.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Venue identifiers form a closed set. New venues are added by implementing
// Adapter and registering the ID in the factory, not by branching on strings
// at call sites.
const (
	VenueCoinbase = "coinbase"
	VenueKraken   = "kraken"
	VenueAlpaca   = "alpaca"
	VenueBinance  = "binance"
	VenueOKX      = "okx"
	VenueBybit    = "bybit"
)

// Adapter abstracts one exchange behind the common capability set. Each
// implementation normalizes its venue's symbol format, minimum order size
// and quote currency into the shared shapes in pkg/types.
//
// PlaceOrder never returns an error for ordinary rejections; those come
// back as a typed OrderResult with status REJECTED. Only protocol or auth
// failures propagate as errors for the retry controller to classify.
type Adapter interface {
	Name() string

	PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetBalance(ctx context.Context) (*types.Balance, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error)
	ListSymbols(ctx context.Context) ([]string, error)

	// NormalizeSymbol converts a generic "BASE-QUOTE" symbol into the
	// venue's native format.
	NormalizeSymbol(symbol string) string

	// MinOrderUSD is the venue's absolute minimum order size, chosen so
	// expected fees stay a small fraction of the position.
	MinOrderUSD() float64

	QuoteCurrency() string
}

// Credential is an opaque key/secret pair scoped to one (account, venue)
// pair. It is immutable after load and must never be logged.
type Credential struct {
	APIKey    string
	APISecret string
	// Passphrase is required by some venues (Coinbase, OKX).
	Passphrase string
}
