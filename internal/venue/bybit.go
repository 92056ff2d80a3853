package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/google/uuid"
	"github.com/quanthive/tradegate/pkg/types"
)

const bybitMinOrderUSD = 5.0

// Bybit retCodes the retry controller cares about.
const (
	bybitRetRateLimited       = 10006
	bybitRetInsufficientFunds = 110007
)

// BybitAdapter implements Adapter on top of the official bybit.go.api SDK.
type BybitAdapter struct {
	client *bybit_api.Client
}

// NewBybitAdapter creates a Bybit adapter for one credential.
func NewBybitAdapter(cred Credential) *BybitAdapter {
	return &BybitAdapter{
		client: bybit_api.NewBybitHttpClient(cred.APIKey, cred.APISecret, bybit_api.WithBaseURL(bybit_api.MAINNET)),
	}
}

func (a *BybitAdapter) Name() string          { return VenueBybit }
func (a *BybitAdapter) MinOrderUSD() float64  { return bybitMinOrderUSD }
func (a *BybitAdapter) QuoteCurrency() string { return "USDT" }

// NormalizeSymbol: BTC-USD -> BTCUSDT.
func (a *BybitAdapter) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, "-USD") {
		s += "T"
	}
	return strings.ReplaceAll(s, "-", "")
}

// unwrap decodes a ServerResponse envelope, mapping Bybit retCodes into the
// shared error taxonomy, and unmarshals the result into out.
func (a *BybitAdapter) unwrap(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return NewVenueError(VenueBybit, KindTransientNetwork, "unexpected response type from SDK")
	}
	if serverResp.RetCode != 0 {
		msg := fmt.Sprintf("retCode %d: %s", serverResp.RetCode, serverResp.RetMsg)
		switch serverResp.RetCode {
		case bybitRetRateLimited:
			return NewVenueError(VenueBybit, KindRateLimited, msg)
		default:
			return NewVenueError(VenueBybit, KindPermanent, msg)
		}
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(serverResp.Result)
	if err != nil {
		return NewVenueError(VenueBybit, KindPermanent, fmt.Sprintf("marshal result: %v", err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewVenueError(VenueBybit, KindPermanent, fmt.Sprintf("unmarshal result: %v", err))
	}
	return nil
}

func (a *BybitAdapter) PlaceOrder(ctx context.Context, symbol string, side types.OrderSide, usdSize float64, orderType OrderType) (*types.OrderResult, error) {
	bybitSide := "Buy"
	if side == types.SideSell {
		bybitSide = "Sell"
	}
	bybitType := "Market"
	if orderType == OrderTypeLimit {
		bybitType = "Limit"
	}

	params := map[string]interface{}{
		"category":    "spot",
		"symbol":      a.NormalizeSymbol(symbol),
		"side":        bybitSide,
		"orderType":   bybitType,
		"qty":         fmt.Sprintf("%.2f", usdSize),
		"marketUnit":  "quoteCoin",
		"orderLinkId": uuid.NewString(),
	}

	result, err := a.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, Classify(VenueBybit, err)
	}

	var orderResp struct {
		OrderID string `json:"orderId"`
	}
	if err := a.unwrap(result, &orderResp); err != nil {
		if strings.Contains(err.Error(), fmt.Sprintf("retCode %d", bybitRetInsufficientFunds)) {
			return &types.OrderResult{Status: types.OrderRejected, Message: err.Error()}, nil
		}
		return nil, err
	}
	return &types.OrderResult{Status: types.OrderFilled, OrderID: orderResp.OrderID, FilledUSD: usdSize}, nil
}

func (a *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   a.NormalizeSymbol(symbol),
		"orderId":  orderID,
	}
	result, err := a.client.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return Classify(VenueBybit, err)
	}
	return a.unwrap(result, nil)
}

func (a *BybitAdapter) GetBalance(ctx context.Context) (*types.Balance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        a.QuoteCurrency(),
	}
	result, err := a.client.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, Classify(VenueBybit, err)
	}

	var walletResp struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				Locked              string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := a.unwrap(result, &walletResp); err != nil {
		return nil, err
	}

	bal := &types.Balance{Asset: a.QuoteCurrency()}
	for _, acct := range walletResp.List {
		for _, c := range acct.Coin {
			if c.Coin == a.QuoteCurrency() {
				bal.Free = parseFloat(c.WalletBalance)
				bal.Locked = parseFloat(c.Locked)
			}
		}
	}
	return bal, nil
}

func (a *BybitAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	params := map[string]interface{}{"accountType": "UNIFIED"}
	result, err := a.client.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, Classify(VenueBybit, err)
	}

	var walletResp struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				UsdValue      string `json:"usdValue"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := a.unwrap(result, &walletResp); err != nil {
		return nil, err
	}

	var positions []types.Position
	for _, acct := range walletResp.List {
		for _, c := range acct.Coin {
			qty := parseFloat(c.WalletBalance)
			if qty <= 0 || c.Coin == a.QuoteCurrency() {
				continue
			}
			positions = append(positions, types.Position{
				Symbol:   c.Coin + "-USD",
				Quantity: qty,
				USDValue: parseFloat(c.UsdValue),
			})
		}
	}
	return positions, nil
}

var bybitIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30", "1h": "60", "4h": "240", "1d": "D",
}

func (a *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	iv, ok := bybitIntervals[interval]
	if !ok {
		return nil, NewVenueError(VenueBybit, KindPermanent, fmt.Sprintf("unsupported interval %q", interval))
	}

	params := map[string]interface{}{
		"category": "spot",
		"symbol":   a.NormalizeSymbol(symbol),
		"interval": iv,
		"limit":    limit,
	}
	result, err := a.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, Classify(VenueBybit, err)
	}

	var klineResp struct {
		List [][]string `json:"list"`
	}
	if err := a.unwrap(result, &klineResp); err != nil {
		return nil, err
	}

	candles := make([]types.OHLCV, 0, len(klineResp.List))
	for _, row := range klineResp.List {
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

func (a *BybitAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	params := map[string]interface{}{
		"category": "spot",
		"limit":    1000,
	}
	result, err := a.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, Classify(VenueBybit, err)
	}

	var instResp struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	}
	if err := a.unwrap(result, &instResp); err != nil {
		return nil, err
	}

	var symbols []string
	for _, inst := range instResp.List {
		if inst.Status != "Trading" || inst.QuoteCoin != a.QuoteCurrency() {
			continue
		}
		symbols = append(symbols, inst.BaseCoin+"-USD")
	}
	return symbols, nil
}
