package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quanthive/tradegate/pkg/types"
)

const okxBaseURL = "https://www.okx.com"

const okxMinOrderUSD = 5.0

// OKXAdapter implements Adapter for OKX spot.
type OKXAdapter struct {
	rest *restClient
	cred Credential
}

// NewOKXAdapter creates an OKX adapter for one credential.
func NewOKXAdapter(cred Credential) *OKXAdapter {
	a := &OKXAdapter{cred: cred}
	a.rest = newRESTClient(VenueOKX, okxBaseURL, 5, a.sign)
	return a
}

func (a *OKXAdapter) Name() string          { return VenueOKX }
func (a *OKXAdapter) MinOrderUSD() float64  { return okxMinOrderUSD }
func (a *OKXAdapter) QuoteCurrency() string { return "USDT" }

// NormalizeSymbol: BTC-USD -> BTC-USDT. OKX keeps the dash separator.
func (a *OKXAdapter) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, "-USD") {
		s += "T"
	}
	return s
}

// sign implements OKX's scheme: base64 HMAC-SHA256 of
// timestamp+method+path+body.
func (a *OKXAdapter) sign(req *http.Request, body []byte) error {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	mac := hmac.New(sha256.New, []byte(a.cred.APISecret))
	mac.Write([]byte(ts + req.Method + path + string(body)))

	req.Header.Set("OK-ACCESS-KEY", a.cred.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", a.cred.Passphrase)
	return nil
}

// okxEnvelope is the uniform {code, msg, data} wrapper on OKX responses.
type okxEnvelope struct {
	Code string                    `json:"code"`
	Msg  string                    `json:"msg"`
	Data []map[string]interface{} `json:"data"`
}

func (a *OKXAdapter) checkEnvelope(resp *okxEnvelope) error {
	if resp.Code == "0" {
		return nil
	}
	switch resp.Code {
	case "50011":
		return NewVenueError(VenueOKX, KindRateLimited, resp.Msg)
	case "50013":
		return NewVenueError(VenueOKX, KindTransientNetwork, resp.Msg)
	}
	return NewVenueError(VenueOKX, KindPermanent, fmt.Sprintf("code %s: %s", resp.Code, resp.Msg))
}

func (a *OKXAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error) {
	body := map[string]string{
		"instId":  a.NormalizeSymbol(symbol),
		"tdMode":  "cash",
		"side":    strings.ToLower(string(side)),
		"ordType": strings.ToLower(string(orderType)),
		"sz":      fmt.Sprintf("%.2f", usdSize),
		// Size market buys in quote currency so USD sizing is exact.
		"tgtCcy": "quote_ccy",
	}

	var resp okxEnvelope
	if err := a.rest.doJSON(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		// 51008 is insufficient balance, a normal rejection.
		if strings.Contains(err.Error(), "51008") {
			return &types.OrderResult{Status: types.OrderRejected, Message: resp.Msg}, nil
		}
		return nil, err
	}

	var orderID string
	if len(resp.Data) > 0 {
		orderID = asString(resp.Data[0]["ordId"])
	}
	return &types.OrderResult{Status: types.OrderFilled, OrderID: orderID, FilledUSD: usdSize}, nil
}

func (a *OKXAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"instId": a.NormalizeSymbol(symbol),
		"ordId":  orderID,
	}
	var resp okxEnvelope
	if err := a.rest.doJSON(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, &resp); err != nil {
		return err
	}
	return a.checkEnvelope(&resp)
}

func (a *OKXAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	q := url.Values{}
	q.Set("ccy", a.QuoteCurrency())

	var resp okxEnvelope
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v5/account/balance", q, nil, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	bal := &types.Balance{Asset: a.QuoteCurrency()}
	if len(resp.Data) > 0 {
		if details, ok := resp.Data[0]["details"].([]interface{}); ok {
			for _, d := range details {
				row, ok := d.(map[string]interface{})
				if !ok || asString(row["ccy"]) != a.QuoteCurrency() {
					continue
				}
				bal.Free = parseFloat(asString(row["availBal"]))
				bal.Locked = parseFloat(asString(row["frozenBal"]))
			}
		}
	}
	return bal, nil
}

func (a *OKXAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	var resp okxEnvelope
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	var positions []types.Position
	if len(resp.Data) > 0 {
		if details, ok := resp.Data[0]["details"].([]interface{}); ok {
			for _, d := range details {
				row, ok := d.(map[string]interface{})
				if !ok {
					continue
				}
				ccy := asString(row["ccy"])
				qty := parseFloat(asString(row["availBal"]))
				if qty <= 0 || ccy == a.QuoteCurrency() {
					continue
				}
				positions = append(positions, types.Position{
					Symbol:   ccy + "-USD",
					Quantity: qty,
					USDValue: parseFloat(asString(row["eqUsd"])),
				})
			}
		}
	}
	return positions, nil
}

var okxBars = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m", "1h": "1H", "4h": "4H", "1d": "1D",
}

func (a *OKXAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	bar, ok := okxBars[interval]
	if !ok {
		return nil, NewVenueError(VenueOKX, KindPermanent, fmt.Sprintf("unsupported interval %q", interval))
	}

	q := url.Values{}
	q.Set("instId", a.NormalizeSymbol(symbol))
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, NewVenueError(VenueOKX, KindPermanent, resp.Msg)
	}

	candles := make([]types.OHLCV, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, types.OHLCV{
			Timestamp: time.UnixMilli(ms).UTC(),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		})
	}
	return candles, nil
}

func (a *OKXAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("instType", "SPOT")

	var resp okxEnvelope
	if err := a.rest.doJSON(ctx, http.MethodGet, "/api/v5/public/instruments", q, nil, &resp); err != nil {
		return nil, err
	}
	if err := a.checkEnvelope(&resp); err != nil {
		return nil, err
	}

	var symbols []string
	for _, row := range resp.Data {
		if asString(row["state"]) != "live" {
			continue
		}
		instID := asString(row["instId"])
		if !strings.HasSuffix(instID, "-"+a.QuoteCurrency()) {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(instID, "T"))
	}
	return symbols, nil
}
