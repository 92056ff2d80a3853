package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quanthive/tradegate/pkg/types"
)

const binanceBaseURL = "https://api.binance.com"

const binanceMinOrderUSD = 5.0

// BinanceAdapter implements Adapter for Binance spot.
type BinanceAdapter struct {
	rest *restClient
	cred Credential
}

// NewBinanceAdapter creates a Binance adapter for one credential.
func NewBinanceAdapter(cred Credential) *BinanceAdapter {
	a := &BinanceAdapter{cred: cred}
	a.rest = newRESTClient(VenueBinance, binanceBaseURL, 10, a.sign)
	return a
}

func (a *BinanceAdapter) Name() string          { return VenueBinance }
func (a *BinanceAdapter) MinOrderUSD() float64  { return binanceMinOrderUSD }
func (a *BinanceAdapter) QuoteCurrency() string { return "USDT" }

// NormalizeSymbol: BTC-USD -> BTCUSDT. Binance quotes crypto in USDT.
func (a *BinanceAdapter) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "-USD", "-USDT")
	s = strings.ReplaceAll(s, "-USDTT", "-USDT")
	return strings.ReplaceAll(s, "-", "")
}

// sign adds the API key header and, for signed endpoints, appends the
// HMAC-SHA256 signature over the query string. Binance signs the query
// rather than the request body.
func (a *BinanceAdapter) sign(req *http.Request, _ []byte) error {
	req.Header.Set("X-MBX-APIKEY", a.cred.APIKey)
	if !strings.Contains(req.URL.Path, "/api/v3/order") && !strings.Contains(req.URL.Path, "/api/v3/account") {
		return nil
	}

	q := req.URL.Query()
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(a.cred.APISecret))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()
	return nil
}

func (a *BinanceAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", a.NormalizeSymbol(symbol))
	q.Set("side", string(side))
	q.Set("type", string(orderType))
	// quoteOrderQty sizes a market order in quote currency directly.
	q.Set("quoteOrderQty", fmt.Sprintf("%.2f", usdSize))

	var resp struct {
		OrderID             int64  `json:"orderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Fills               []struct {
			Price string `json:"price"`
		} `json:"fills"`
	}
	err := a.rest.doJSON(ctx, http.MethodPost, "/api/v3/order", q, nil, &resp)
	if err != nil {
		var ve *VenueError
		if errors.As(err, &ve) && ve.HTTPStatus == http.StatusBadRequest &&
			strings.Contains(ve.Message, "insufficient balance") {
			return &types.OrderResult{Status: types.OrderRejected, Message: ve.Message}, nil
		}
		return nil, err
	}

	result := &types.OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		FilledUSD: parseFloat(resp.CummulativeQuoteQty),
	}
	if len(resp.Fills) > 0 {
		result.FillPrice = parseFloat(resp.Fills[0].Price)
	}
	switch resp.Status {
	case "FILLED":
		result.Status = types.OrderFilled
	case "PARTIALLY_FILLED":
		result.Status = types.OrderPartiallyFilled
	case "REJECTED", "EXPIRED":
		result.Status = types.OrderRejected
	default:
		result.Status = types.OrderError
		result.Message = "unexpected order status " + resp.Status
	}
	return result, nil
}

func (a *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{}
	q.Set("symbol", a.NormalizeSymbol(symbol))
	q.Set("orderId", orderID)
	return a.rest.doJSON(ctx, http.MethodDelete, "/api/v3/order", q, nil, nil)
}

func (a *BinanceAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/account", nil, nil, &resp); err != nil {
		return nil, err
	}
	for _, b := range resp.Balances {
		if b.Asset == a.QuoteCurrency() {
			return &types.Balance{Asset: b.Asset, Free: parseFloat(b.Free), Locked: parseFloat(b.Locked)}, nil
		}
	}
	return &types.Balance{Asset: a.QuoteCurrency()}, nil
}

func (a *BinanceAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/account", nil, nil, &resp); err != nil {
		return nil, err
	}

	var positions []types.Position
	for _, b := range resp.Balances {
		qty := parseFloat(b.Free)
		if qty <= 0 || b.Asset == a.QuoteCurrency() {
			continue
		}
		positions = append(positions, types.Position{
			Symbol:   b.Asset + "-USD",
			Quantity: qty,
		})
	}
	return positions, nil
}

var binanceIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m", "1h": "1h", "4h": "4h", "1d": "1d",
}

func (a *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	iv, ok := binanceIntervals[interval]
	if !ok {
		return nil, NewVenueError(VenueBinance, KindPermanent, fmt.Sprintf("unsupported interval %q", interval))
	}

	q := url.Values{}
	q.Set("symbol", a.NormalizeSymbol(symbol))
	q.Set("interval", iv)
	q.Set("limit", strconv.Itoa(limit))

	var resp [][]interface{}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/klines", q, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]types.OHLCV, 0, len(resp))
	for _, row := range resp {
		if len(row) < 6 {
			continue
		}
		ts, _ := row[0].(float64)
		candles = append(candles, types.OHLCV{
			Timestamp: time.UnixMilli(int64(ts)).UTC(),
			Open:      parseFloat(asString(row[1])),
			High:      parseFloat(asString(row[2])),
			Low:       parseFloat(asString(row[3])),
			Close:     parseFloat(asString(row[4])),
			Volume:    parseFloat(asString(row[5])),
		})
	}
	return candles, nil
}

func (a *BinanceAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []struct {
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
		} `json:"symbols"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, nil, &resp); err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != a.QuoteCurrency() {
			continue
		}
		symbols = append(symbols, s.BaseAsset+"-USD")
	}
	return symbols, nil
}
