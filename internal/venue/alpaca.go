package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quanthive/tradegate/pkg/types"
)

const (
	alpacaTradingURL = "https://api.alpaca.markets"
	alpacaDataURL    = "https://data.alpaca.markets"
)

// Equities are commission free on Alpaca, so the floor only has to keep
// positions out of dust territory.
const alpacaMinOrderUSD = 1.0

// AlpacaAdapter implements Adapter for Alpaca (US equities).
type AlpacaAdapter struct {
	trading *restClient
	data    *restClient
	cred    Credential
}

// NewAlpacaAdapter creates an Alpaca adapter for one credential.
func NewAlpacaAdapter(cred Credential) *AlpacaAdapter {
	a := &AlpacaAdapter{cred: cred}
	a.trading = newRESTClient(VenueAlpaca, alpacaTradingURL, 3, a.sign)
	a.data = newRESTClient(VenueAlpaca, alpacaDataURL, 3, a.sign)
	return a
}

func (a *AlpacaAdapter) Name() string          { return VenueAlpaca }
func (a *AlpacaAdapter) MinOrderUSD() float64  { return alpacaMinOrderUSD }
func (a *AlpacaAdapter) QuoteCurrency() string { return "USD" }

// NormalizeSymbol: equities trade by bare ticker, so BASE-USD -> BASE.
func (a *AlpacaAdapter) NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSuffix(symbol, "-USD"))
}

func (a *AlpacaAdapter) sign(req *http.Request, _ []byte) error {
	req.Header.Set("APCA-API-KEY-ID", a.cred.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.cred.APISecret)
	return nil
}

func (a *AlpacaAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error) {
	body := map[string]interface{}{
		"symbol":          a.NormalizeSymbol(symbol),
		"notional":        fmt.Sprintf("%.2f", usdSize),
		"side":            strings.ToLower(string(side)),
		"type":            strings.ToLower(string(orderType)),
		"time_in_force":   "day",
		"client_order_id": uuid.NewString(),
	}

	var resp struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		FilledAvgPrice string `json:"filled_avg_price"`
	}
	err := a.trading.doJSON(ctx, http.MethodPost, "/v2/orders", nil, body, &resp)
	if err != nil {
		// 422 means the order itself was refused (halted symbol,
		// insufficient buying power), an ordinary typed rejection.
		var ve *VenueError
		if errors.As(err, &ve) && ve.HTTPStatus == http.StatusUnprocessableEntity {
			return &types.OrderResult{Status: types.OrderRejected, Message: ve.Message}, nil
		}
		return nil, err
	}

	status := types.OrderFilled
	switch resp.Status {
	case "rejected", "canceled":
		status = types.OrderRejected
	case "partially_filled":
		status = types.OrderPartiallyFilled
	}
	return &types.OrderResult{
		Status:    status,
		OrderID:   resp.ID,
		FillPrice: parseFloat(resp.FilledAvgPrice),
		FilledUSD: usdSize,
	}, nil
}

func (a *AlpacaAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return a.trading.doJSON(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil, nil, nil)
}

func (a *AlpacaAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	var resp struct {
		Cash        string `json:"cash"`
		BuyingPower string `json:"buying_power"`
		Currency    string `json:"currency"`
	}
	if err := a.trading.doJSON(ctx, http.MethodGet, "/v2/account", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &types.Balance{Asset: a.QuoteCurrency(), Free: parseFloat(resp.Cash)}, nil
}

func (a *AlpacaAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	var resp []struct {
		Symbol        string `json:"symbol"`
		Qty           string `json:"qty"`
		AvgEntryPrice string `json:"avg_entry_price"`
		MarketValue   string `json:"market_value"`
	}
	if err := a.trading.doJSON(ctx, http.MethodGet, "/v2/positions", nil, nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(resp))
	for _, p := range resp {
		positions = append(positions, types.Position{
			Symbol:     p.Symbol + "-" + a.QuoteCurrency(),
			Quantity:   parseFloat(p.Qty),
			EntryPrice: parseFloat(p.AvgEntryPrice),
			USDValue:   parseFloat(p.MarketValue),
		})
	}
	return positions, nil
}

var alpacaTimeframes = map[string]string{
	"1m": "1Min", "5m": "5Min", "15m": "15Min", "30m": "30Min", "1h": "1Hour", "1d": "1Day",
}

func (a *AlpacaAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	tf, ok := alpacaTimeframes[interval]
	if !ok {
		return nil, NewVenueError(VenueAlpaca, KindPermanent, fmt.Sprintf("unsupported interval %q", interval))
	}

	q := url.Values{}
	q.Set("timeframe", tf)
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Bars []struct {
			T time.Time `json:"t"`
			O float64   `json:"o"`
			H float64   `json:"h"`
			L float64   `json:"l"`
			C float64   `json:"c"`
			V float64   `json:"v"`
		} `json:"bars"`
	}
	path := "/v2/stocks/" + a.NormalizeSymbol(symbol) + "/bars"
	if err := a.data.doJSON(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]types.OHLCV, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		candles = append(candles, types.OHLCV{
			Timestamp: b.T, Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V,
		})
	}
	return candles, nil
}

func (a *AlpacaAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("status", "active")
	q.Set("asset_class", "us_equity")

	var resp []struct {
		Symbol   string `json:"symbol"`
		Tradable bool   `json:"tradable"`
	}
	if err := a.trading.doJSON(ctx, http.MethodGet, "/v2/assets", q, nil, &resp); err != nil {
		return nil, err
	}

	var symbols []string
	for _, asset := range resp {
		if asset.Tradable {
			symbols = append(symbols, asset.Symbol+"-"+a.QuoteCurrency())
		}
	}
	return symbols, nil
}
