package market

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gregtusar/botdash/pkg/models"
)

const DefaultTopN = 10

// Aggregator merges ticker batches from the stream and REST snapshots into
// one map keyed by normalized instrument, and keeps the top-N by volume.
type Aggregator struct {
	quote string
	topN  int

	mu      sync.RWMutex
	tickers map[string]models.Ticker
	ranked  []models.Ticker
	now     func() time.Time
}

func NewAggregator(quote string, topN int) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Aggregator{
		quote:   quote,
		topN:    topN,
		tickers: make(map[string]models.Ticker),
		now:     time.Now,
	}
}

// Apply upserts a batch (last write wins per key) and returns the recomputed
// ranked view. Instruments not quoted in the target currency are ignored.
func (a *Aggregator) Apply(batch []models.Ticker) []models.Ticker {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range batch {
		key := models.NormalizeInstrument(t.Pair)
		if !models.IsQuotedIn(key, a.quote) {
			continue
		}
		t.Pair = key
		a.tickers[key] = t
	}
	a.rerank()
	return slices.Clone(a.ranked)
}

// ApplyMessages decodes a market:summary payload and applies it.
func (a *Aggregator) ApplyMessages(payload json.RawMessage) ([]models.Ticker, error) {
	var msgs []models.TickerMessage
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil, fmt.Errorf("decode market summary: %w", err)
	}
	at := a.now()
	batch := make([]models.Ticker, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, m.Ticker(at))
	}
	return a.Apply(batch), nil
}

// LoadSnapshot bulk-loads a REST market summary through the same pipeline as
// stream batches, so later stream data for a key replaces it.
func (a *Aggregator) LoadSnapshot(s models.MarketSnapshot) []models.Ticker {
	return a.Apply(s.ToTickers(a.quote, a.now()))
}

// rerank sorts the whole merged set; callers hold the write lock.
func (a *Aggregator) rerank() {
	all := make([]models.Ticker, 0, len(a.tickers))
	for _, t := range a.tickers {
		all = append(all, t)
	}
	slices.SortFunc(all, func(x, y models.Ticker) int {
		if c := cmp.Compare(y.Volume24h, x.Volume24h); c != 0 {
			return c
		}
		return cmp.Compare(x.Pair, y.Pair)
	})
	if len(all) > a.topN {
		all = all[:a.topN]
	}
	a.ranked = all
}

// Ranked returns the current top-N view, sorted descending by volume.
func (a *Aggregator) Ranked() []models.Ticker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.ranked)
}

// Prices returns last prices for every merged instrument, not only the top N.
func (a *Aggregator) Prices() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]float64, len(a.tickers))
	for k, t := range a.tickers {
		out[k] = t.Last
	}
	return out
}

// Price looks up the last price for pair in either "pepe_idr" or "pepeidr" form.
func (a *Aggregator) Price(pair string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tickers[models.NormalizeInstrument(pair)]
	if !ok {
		return 0, false
	}
	return t.Last, true
}
