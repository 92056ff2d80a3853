package venue

import (
	"fmt"
	"strings"
)

// NewAdapter builds the adapter for a venue ID. The supported set is
// closed; adding a venue means implementing Adapter and extending this
// switch, not branching on venue strings anywhere else.
func NewAdapter(venueID string, cred Credential) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(venueID)) {
	case VenueCoinbase:
		return NewCoinbaseAdapter(cred), nil
	case VenueKraken:
		return NewKrakenAdapter(cred), nil
	case VenueAlpaca:
		return NewAlpacaAdapter(cred), nil
	case VenueBinance:
		return NewBinanceAdapter(cred), nil
	case VenueOKX:
		return NewOKXAdapter(cred), nil
	case VenueBybit:
		return NewBybitAdapter(cred), nil
	}
	return nil, fmt.Errorf("unsupported venue %q (supported: %v)", venueID, SupportedVenues())
}

// SupportedVenues lists the closed set of venue IDs.
func SupportedVenues() []string {
	return []string{VenueCoinbase, VenueKraken, VenueAlpaca, VenueBinance, VenueOKX, VenueBybit}
}

// FallbackSymbols is the curated symbol universe used when a venue's bulk
// symbol listing terminally fails. Scanning a conservative static list
// beats skipping the whole cycle.
var FallbackSymbols = map[string][]string{
	VenueCoinbase: {"BTC-USD", "ETH-USD", "SOL-USD", "ADA-USD", "LINK-USD", "AVAX-USD", "DOT-USD", "LTC-USD"},
	VenueKraken:   {"BTC-USD", "ETH-USD", "SOL-USD", "ADA-USD", "LINK-USD", "DOT-USD", "ATOM-USD", "XRP-USD"},
	VenueAlpaca:   {"AAPL-USD", "MSFT-USD", "GOOG-USD", "AMZN-USD", "NVDA-USD", "SPY-USD", "QQQ-USD"},
	VenueBinance:  {"BTC-USD", "ETH-USD", "BNB-USD", "SOL-USD", "ADA-USD", "XRP-USD", "LINK-USD", "AVAX-USD"},
	VenueOKX:      {"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD", "ADA-USD", "LINK-USD", "OP-USD"},
	VenueBybit:    {"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD", "ADA-USD", "DOGE-USD", "LINK-USD"},
}
