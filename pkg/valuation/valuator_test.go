package valuation

import (
	"math"
	"testing"

	"github.com/gregtusar/botdash/pkg/models"
)

func TestValueFallbackChain(t *testing.T) {
	positions := []models.OpenPosition{
		{ID: "live", Pair: "pepe_idr", EntryPrice: 0.4, Amount: 1000},
		{ID: "ranked", Pair: "btc_idr", EntryPrice: 100, Amount: 2},
		{ID: "entry", Pair: "doge_idr", EntryPrice: 50, Amount: 3},
	}
	prices := map[string]float64{"pepeidr": 0.5}
	ranked := []models.Ticker{{Pair: "btcidr", Last: 110}, {Pair: "pepeidr", Last: 9}}

	got := Value(positions, prices, ranked)
	if len(got) != 3 {
		t.Fatalf("got %d valuations", len(got))
	}

	tests := []struct {
		price  float64
		source models.PriceSource
		pct    float64
		amount float64
	}{
		{0.5, models.PriceSourceLive, 25, 100},
		{110, models.PriceSourceRanked, 10, 20},
		{50, models.PriceSourceEntry, 0, 0},
	}
	for i, tt := range tests {
		v := got[i]
		if v.CurrentPrice != tt.price || v.PriceSource != tt.source {
			t.Errorf("%s: price %v (%s) want %v (%s)", v.Position.ID, v.CurrentPrice, v.PriceSource, tt.price, tt.source)
		}
		if math.Abs(v.PnLPercent-tt.pct) > 1e-9 {
			t.Errorf("%s: pnl%% got %v want %v", v.Position.ID, v.PnLPercent, tt.pct)
		}
		if math.Abs(v.PnLAmount-tt.amount) > 1e-9 {
			t.Errorf("%s: pnl amount got %v want %v", v.Position.ID, v.PnLAmount, tt.amount)
		}
	}
}

func TestValueZeroEntry(t *testing.T) {
	got := Value([]models.OpenPosition{{Pair: "xidr", EntryPrice: 0, Amount: 5}}, map[string]float64{"xidr": 3}, nil)
	if got[0].PnLPercent != 0 {
		t.Fatalf("pnl%% got %v want 0", got[0].PnLPercent)
	}
	if got[0].PnLAmount != 15 {
		t.Fatalf("pnl amount got %v want 15", got[0].PnLAmount)
	}
	if math.IsNaN(got[0].PnLPercent) || math.IsInf(got[0].PnLPercent, 0) {
		t.Fatal("pnl%% must be finite")
	}
}

func TestValueEmpty(t *testing.T) {
	if got := Value(nil, nil, nil); len(got) != 0 {
		t.Fatalf("expected no valuations, got %v", got)
	}
}

func TestValueSkipsZeroPrices(t *testing.T) {
	pos := []models.OpenPosition{{ID: "p", Pair: "pepe_idr", EntryPrice: 100, Amount: 2}}

	tests := []struct {
		name   string
		prices map[string]float64
		ranked []models.Ticker
		price  float64
		source models.PriceSource
	}{
		{"zero live falls to entry", map[string]float64{"pepeidr": 0}, nil, 100, models.PriceSourceEntry},
		{"zero live falls to ranked", map[string]float64{"pepeidr": 0}, []models.Ticker{{Pair: "pepeidr", Last: 120}}, 120, models.PriceSourceRanked},
		{"zero ranked falls to entry", nil, []models.Ticker{{Pair: "pepeidr", Last: 0}}, 100, models.PriceSourceEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Value(pos, tt.prices, tt.ranked)[0]
			if v.CurrentPrice != tt.price || v.PriceSource != tt.source {
				t.Fatalf("price %v (%s) want %v (%s)", v.CurrentPrice, v.PriceSource, tt.price, tt.source)
			}
			if v.PnLPercent < 0 {
				t.Fatalf("pnl%% got %v", v.PnLPercent)
			}
		})
	}
}
