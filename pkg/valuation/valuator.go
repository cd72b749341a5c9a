// Package valuation marks open positions to market.
package valuation

import "github.com/gregtusar/botdash/pkg/models"

// Value derives current price and profit/loss for every position. prices is
// the full live price map keyed by normalized instrument; ranked is the
// ranked view. A position with no positive live or ranked price is valued at
// entry; unparsable ticks decode to zero and count as missing.
func Value(positions []models.OpenPosition, prices map[string]float64, ranked []models.Ticker) []models.Valuation {
	rankedPrices := make(map[string]float64, len(ranked))
	for _, t := range ranked {
		rankedPrices[models.NormalizeInstrument(t.Pair)] = t.Last
	}

	out := make([]models.Valuation, 0, len(positions))
	for _, p := range positions {
		out = append(out, valueOne(p, prices, rankedPrices))
	}
	return out
}

func valueOne(p models.OpenPosition, prices, ranked map[string]float64) models.Valuation {
	key := models.NormalizeInstrument(p.Pair)
	entry := p.EntryPrice.Float64()

	v := models.Valuation{Position: p, CurrentPrice: entry, PriceSource: models.PriceSourceEntry}
	if price := prices[key]; price > 0 {
		v.CurrentPrice, v.PriceSource = price, models.PriceSourceLive
	} else if price := ranked[key]; price > 0 {
		v.CurrentPrice, v.PriceSource = price, models.PriceSourceRanked
	}

	if entry != 0 {
		v.PnLPercent = (v.CurrentPrice - entry) / entry * 100
	}
	v.PnLAmount = p.Amount.Float64() * (v.CurrentPrice - entry)
	return v
}
