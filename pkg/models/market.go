package models

import (
	"strings"
	"time"
)

// NormalizeInstrument maps both the delimited form used by persisted records
// ("pepe_idr") and the concatenated form used by the stream ("pepeidr") to the
// concatenated lower-case key. All price lookups and joins go through it.
func NormalizeInstrument(pair string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(pair), "_", ""))
}

// IsQuotedIn reports whether pair is quoted in the given currency.
func IsQuotedIn(pair, quote string) bool {
	quote = strings.ToLower(strings.TrimSpace(quote))
	if quote == "" {
		return true
	}
	key := NormalizeInstrument(pair)
	return len(key) > len(quote) && strings.HasSuffix(key, quote)
}

// BaseAsset returns the upper-case base currency of pair, e.g. "PEPE" for
// "pepe_idr" or "pepeidr".
func BaseAsset(pair, quote string) string {
	if i := strings.Index(pair, "_"); i > 0 {
		return strings.ToUpper(pair[:i])
	}
	key := NormalizeInstrument(pair)
	return strings.ToUpper(strings.TrimSuffix(key, strings.ToLower(quote)))
}

// Ticker is the latest snapshot for one instrument. It is replaced wholesale
// on every update for its key.
type Ticker struct {
	Pair      string    `json:"pair"`
	Last      float64   `json:"last"`
	Change24h float64   `json:"change24h"`
	Volume24h float64   `json:"volume24h"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TickerMessage is one element of a market:summary stream event.
type TickerMessage struct {
	Pair      string `json:"pair"`
	Last      Number `json:"last"`
	Change24h Number `json:"change24h"`
	Volume24h Number `json:"volume24h"`
}

func (m TickerMessage) Ticker(at time.Time) Ticker {
	return Ticker{
		Pair:      NormalizeInstrument(m.Pair),
		Last:      m.Last.Float64(),
		Change24h: m.Change24h.Float64(),
		Volume24h: m.Volume24h.Float64(),
		UpdatedAt: at,
	}
}

// RawTicker holds the string-typed ticker fields returned by the market
// summary REST endpoint ("last", "price_change_24h", "vol_idr", ...).
type RawTicker map[string]Number

// MarketSnapshot is the REST market summary: instrument -> raw ticker.
type MarketSnapshot struct {
	Tickers map[string]RawTicker `json:"tickers"`
}

// ToTickers converts the snapshot into tickers, reading the volume denominated
// in quote ("vol_idr" for idr).
func (s MarketSnapshot) ToTickers(quote string, at time.Time) []Ticker {
	volKey := "vol_" + strings.ToLower(quote)
	out := make([]Ticker, 0, len(s.Tickers))
	for pair, raw := range s.Tickers {
		out = append(out, Ticker{
			Pair:      NormalizeInstrument(pair),
			Last:      raw["last"].Float64(),
			Change24h: raw["price_change_24h"].Float64(),
			Volume24h: raw[volKey].Float64(),
			UpdatedAt: at,
		})
	}
	return out
}
