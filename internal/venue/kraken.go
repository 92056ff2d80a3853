package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quanthive/tradegate/pkg/types"
)

const krakenBaseURL = "https://api.kraken.com"

const krakenMinOrderUSD = 10.0

// KrakenAdapter implements Adapter for Kraken spot.
type KrakenAdapter struct {
	rest *restClient
	cred Credential
}

// NewKrakenAdapter creates a Kraken adapter for one credential.
func NewKrakenAdapter(cred Credential) *KrakenAdapter {
	a := &KrakenAdapter{cred: cred}
	a.rest = newRESTClient(VenueKraken, krakenBaseURL, 3, a.sign)
	return a
}

func (a *KrakenAdapter) Name() string          { return VenueKraken }
func (a *KrakenAdapter) MinOrderUSD() float64  { return krakenMinOrderUSD }
func (a *KrakenAdapter) QuoteCurrency() string { return "USD" }

// NormalizeSymbol: Kraken spells bitcoin XBT and joins pairs without a
// separator, e.g. BTC-USD -> XBTUSD.
func (a *KrakenAdapter) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "BTC", "XBT")
	return strings.ReplaceAll(s, "-", "")
}

// sign implements Kraken's API-Sign scheme: HMAC-SHA512 of the URI path
// plus SHA256(nonce + POST data), keyed by the base64-decoded secret.
func (a *KrakenAdapter) sign(req *http.Request, body []byte) error {
	if req.Method != http.MethodPost {
		return nil
	}
	nonce := strconv.FormatInt(time.Now().UnixMilli(), 10)

	sha := sha256.Sum256([]byte(nonce + string(body)))
	secret, err := base64.StdEncoding.DecodeString(a.cred.APISecret)
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(req.URL.Path))
	mac.Write(sha[:])

	req.Header.Set("API-Key", a.cred.APIKey)
	req.Header.Set("API-Sign", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("API-Nonce", nonce)
	return nil
}

// krakenResult is the uniform envelope Kraken wraps every response in.
type krakenResult struct {
	Error  []string               `json:"error"`
	Result map[string]interface{} `json:"result"`
}

func (a *KrakenAdapter) checkEnvelope(resp *krakenResult) error {
	if len(resp.Error) == 0 {
		return nil
	}
	msg := strings.Join(resp.Error, "; ")
	switch {
	case strings.Contains(msg, "Rate limit"):
		return NewVenueError(VenueKraken, KindRateLimited, msg)
	case strings.Contains(msg, "Temporary lockout"):
		return NewVenueError(VenueKraken, KindTemporarilyForbidden, msg)
	case strings.Contains(msg, "Unavailable"):
		return NewVenueError(VenueKraken, KindTransientNetwork, msg)
	}
	return NewVenueError(VenueKraken, KindPermanent, msg)
}

func (a *KrakenAdapter) lastPrice(ctx context.Context, pair string) (float64, error) {
	q := url.Values{}
	q.Set("pair", pair)
	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodGet, "/0/public/Ticker", q, nil, &resp); err != nil {
		return 0, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return 0, err
	}
	for _, v := range resp.Result {
		if ticker, ok := v.(map[string]interface{}); ok {
			if closeArr, ok := ticker["c"].([]interface{}); ok && len(closeArr) > 0 {
				if s, ok := closeArr[0].(string); ok {
					return parseFloat(s), nil
				}
			}
		}
	}
	return 0, NewVenueError(VenueKraken, KindPermanent, "ticker missing close price for "+pair)
}

func (a *KrakenAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error) {
	pair := a.NormalizeSymbol(symbol)

	// Kraken sizes market orders in base units, so convert from USD at
	// the current ticker price.
	price, err := a.lastPrice(ctx, pair)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, NewVenueError(VenueKraken, KindPermanent, "no price available for "+pair)
	}

	body := map[string]interface{}{
		"pair":      pair,
		"type":      strings.ToLower(string(side)),
		"ordertype": strings.ToLower(string(orderType)),
		"volume":    fmt.Sprintf("%.8f", usdSize/price),
	}

	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodPost, "/0/private/AddOrder", nil, body, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		// Insufficient funds is a normal typed rejection, not a failure.
		if strings.Contains(err.Error(), "Insufficient funds") {
			return &types.OrderResult{Status: types.OrderRejected, Message: err.Error()}, nil
		}
		return nil, err
	}

	var orderID string
	if txid, ok := resp.Result["txid"].([]interface{}); ok && len(txid) > 0 {
		orderID, _ = txid[0].(string)
	}
	return &types.OrderResult{Status: types.OrderFilled, OrderID: orderID, FillPrice: price, FilledUSD: usdSize}, nil
}

func (a *KrakenAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{"txid": orderID}
	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodPost, "/0/private/CancelOrder", nil, body, &resp); err != nil {
		return err
	}
	return a.checkEnvelope(&resp)
}

func (a *KrakenAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodPost, "/0/private/Balance", nil, map[string]interface{}{}, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	// Kraken reports fiat as ZUSD.
	for _, key := range []string{"ZUSD", "USD"} {
		if v, ok := resp.Result[key].(string); ok {
			return &types.Balance{Asset: a.QuoteCurrency(), Free: parseFloat(v)}, nil
		}
	}
	return &types.Balance{Asset: a.QuoteCurrency()}, nil
}

func (a *KrakenAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodPost, "/0/private/Balance", nil, map[string]interface{}{}, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	var positions []types.Position
	for asset, v := range resp.Result {
		s, ok := v.(string)
		if !ok {
			continue
		}
		qty := parseFloat(s)
		if qty <= 0 || asset == "ZUSD" || asset == "USD" {
			continue
		}
		base := strings.TrimPrefix(asset, "X")
		base = strings.ReplaceAll(base, "XBT", "BTC")
		positions = append(positions, types.Position{
			Symbol:   base + "-" + a.QuoteCurrency(),
			Quantity: qty,
		})
	}
	return positions, nil
}

var krakenIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30", "1h": "60", "4h": "240", "1d": "1440",
}

func (a *KrakenAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	iv, ok := krakenIntervals[interval]
	if !ok {
		return nil, NewVenueError(VenueKraken, KindPermanent, fmt.Sprintf("unsupported interval %q", interval))
	}

	q := url.Values{}
	q.Set("pair", a.NormalizeSymbol(symbol))
	q.Set("interval", iv)

	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodGet, "/0/public/OHLC", q, nil, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	var candles []types.OHLCV
	for key, v := range resp.Result {
		if key == "last" {
			continue
		}
		rows, ok := v.([]interface{})
		if !ok {
			continue
		}
		for _, r := range rows {
			row, ok := r.([]interface{})
			if !ok || len(row) < 7 {
				continue
			}
			ts, _ := row[0].(float64)
			candles = append(candles, types.OHLCV{
				Timestamp: time.Unix(int64(ts), 0).UTC(),
				Open:      parseFloat(asString(row[1])),
				High:      parseFloat(asString(row[2])),
				Low:       parseFloat(asString(row[3])),
				Close:     parseFloat(asString(row[4])),
				Volume:    parseFloat(asString(row[6])),
			})
		}
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (a *KrakenAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	var resp krakenResult
	if err := a.rest.doJSON(ctx, http.MethodGet, "/0/public/AssetPairs", nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	var symbols []string
	for _, v := range resp.Result {
		pair, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		ws, _ := pair["wsname"].(string)
		if !strings.HasSuffix(ws, "/USD") {
			continue
		}
		base := strings.TrimSuffix(ws, "/USD")
		base = strings.ReplaceAll(base, "XBT", "BTC")
		symbols = append(symbols, base+"-USD")
	}
	return symbols, nil
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
