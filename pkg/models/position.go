package models

// OpenPosition is owned by the backend; the dashboard only reads it.
type OpenPosition struct {
	ID         string `json:"id"`
	Pair       string `json:"pair"`
	EntryPrice Number `json:"entryPrice"`
	Amount     Number `json:"amount"`
	Cost       Number `json:"cost"`
	StopLoss   Number `json:"stopLoss"`
	TakeProfit Number `json:"takeProfit"`
}

// PriceSource tells where a valuation's current price came from.
type PriceSource string

const (
	PriceSourceLive   PriceSource = "live"
	PriceSourceRanked PriceSource = "ranked"
	PriceSourceEntry  PriceSource = "entry"
)

// Valuation is the mark-to-market view of an open position.
type Valuation struct {
	Position     OpenPosition `json:"position"`
	CurrentPrice float64      `json:"currentPrice"`
	PriceSource  PriceSource  `json:"priceSource"`
	PnLPercent   float64      `json:"pnlPercent"`
	PnLAmount    float64      `json:"pnlAmount"`
}
