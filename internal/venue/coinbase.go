package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quanthive/tradegate/pkg/types"
)

const coinbaseBaseURL = "https://api.coinbase.com"

// coinbaseMinOrderUSD keeps expected fees below a small fraction of the
// position on Coinbase's fee schedule.
const coinbaseMinOrderUSD = 10.0

// CoinbaseAdapter implements Adapter for Coinbase Advanced Trade.
type CoinbaseAdapter struct {
	rest *restClient
	cred Credential
}

// NewCoinbaseAdapter creates a Coinbase adapter for one credential.
func NewCoinbaseAdapter(cred Credential) *CoinbaseAdapter {
	a := &CoinbaseAdapter{cred: cred}
	a.rest = newRESTClient(VenueCoinbase, coinbaseBaseURL, 5, a.sign)
	return a
}

func (a *CoinbaseAdapter) Name() string          { return VenueCoinbase }
func (a *CoinbaseAdapter) MinOrderUSD() float64  { return coinbaseMinOrderUSD }
func (a *CoinbaseAdapter) QuoteCurrency() string { return "USD" }

// NormalizeSymbol: Coinbase products already use the generic BASE-QUOTE form.
func (a *CoinbaseAdapter) NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbol)
}

func (a *CoinbaseAdapter) sign(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := ts + req.Method + req.URL.Path + string(body)
	mac := hmac.New(sha256.New, []byte(a.cred.APISecret))
	mac.Write([]byte(msg))
	req.Header.Set("CB-ACCESS-KEY", a.cred.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	return nil
}

func (a *CoinbaseAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error) {
	order := map[string]interface{}{
		"client_order_id": uuid.NewString(),
		"product_id":      a.NormalizeSymbol(symbol),
		"side":            string(side),
		"order_configuration": map[string]interface{}{
			"market_market_ioc": map[string]string{
				"quote_size": fmt.Sprintf("%.2f", usdSize),
			},
		},
	}

	var resp struct {
		Success       bool   `json:"success"`
		OrderID       string `json:"order_id"`
		FailureReason string `json:"failure_reason"`
	}
	if err := a.rest.doJSON(ctx, http.MethodPost, "/api/v3/brokerage/orders", nil, order, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return &types.OrderResult{Status: types.OrderRejected, Message: resp.FailureReason}, nil
	}
	return &types.OrderResult{Status: types.OrderFilled, OrderID: resp.OrderID, FilledUSD: usdSize}, nil
}

func (a *CoinbaseAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string][]string{"order_ids": {orderID}}
	return a.rest.doJSON(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel", nil, body, nil)
}

func (a *CoinbaseAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	var resp struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
			Hold struct {
				Value string `json:"value"`
			} `json:"hold"`
		} `json:"accounts"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	for _, acct := range resp.Accounts {
		if acct.Currency == a.QuoteCurrency() {
			return &types.Balance{
				Asset:  acct.Currency,
				Free:   parseFloat(acct.AvailableBalance.Value),
				Locked: parseFloat(acct.Hold.Value),
			}, nil
		}
	}
	return &types.Balance{Asset: a.QuoteCurrency()}, nil
}

// GetPositions reports non-quote holdings. Entry prices are not tracked by
// the venue for spot balances; the engine keeps the authoritative entries.
func (a *CoinbaseAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	var resp struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
		} `json:"accounts"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}

	var positions []types.Position
	for _, acct := range resp.Accounts {
		qty := parseFloat(acct.AvailableBalance.Value)
		if acct.Currency == a.QuoteCurrency() || qty <= 0 {
			continue
		}
		positions = append(positions, types.Position{
			Symbol:   acct.Currency + "-" + a.QuoteCurrency(),
			Quantity: qty,
		})
	}
	return positions, nil
}

var coinbaseGranularities = map[string]string{
	"1m": "ONE_MINUTE", "5m": "FIVE_MINUTE", "15m": "FIFTEEN_MINUTE",
	"30m": "THIRTY_MINUTE", "1h": "ONE_HOUR", "4h": "FOUR_HOUR", "1d": "ONE_DAY",
}

func (a *CoinbaseAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	gran, ok := coinbaseGranularities[interval]
	if !ok {
		return nil, NewVenueError(VenueCoinbase, KindPermanent, fmt.Sprintf("unsupported interval %q", interval))
	}

	q := url.Values{}
	q.Set("granularity", gran)
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Candles []struct {
			Start  string `json:"start"`
			Open   string `json:"open"`
			High   string `json:"high"`
			Low    string `json:"low"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	path := "/api/v3/brokerage/products/" + a.NormalizeSymbol(symbol) + "/candles"
	if err := a.rest.doJSON(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]types.OHLCV, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		start, _ := strconv.ParseInt(c.Start, 10, 64)
		candles = append(candles, types.OHLCV{
			Open:      parseFloat(c.Open),
			High:      parseFloat(c.High),
			Low:       parseFloat(c.Low),
			Close:     parseFloat(c.Close),
			Volume:    parseFloat(c.Volume),
			Timestamp: time.Unix(start, 0).UTC(),
		})
	}
	return candles, nil
}

func (a *CoinbaseAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Products []struct {
			ProductID       string `json:"product_id"`
			QuoteCurrencyID string `json:"quote_currency_id"`
			TradingDisabled bool   `json:"trading_disabled"`
		} `json:"products"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/products", nil, nil, &resp); err != nil {
		return nil, err
	}

	var symbols []string
	for _, p := range resp.Products {
		if p.TradingDisabled || p.QuoteCurrencyID != a.QuoteCurrency() {
			continue
		}
		symbols = append(symbols, p.ProductID)
	}
	return symbols, nil
}
