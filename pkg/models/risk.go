package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// RiskConfig is the user-owned risk policy. Absent fields fall back to the
// sizing defaults.
type RiskConfig struct {
	MaxPositionPercent *Number `json:"maxPositionPercent,omitempty"`
	StopLossPercent    *Number `json:"stopLossPercent,omitempty"`
	TakeProfitPercent  *Number `json:"takeProfitPercent,omitempty"`
}

// Settings is the persisted user configuration as returned by the backend.
type Settings struct {
	RiskConfig
	TradingMode          string   `json:"tradingMode,omitempty"`
	RiskProfile          string   `json:"riskProfile,omitempty"`
	AllowedPairs         []string `json:"allowedPairs,omitempty"`
	AnalysisIntervalMins *Number  `json:"analysisIntervalMins,omitempty"`
	NotifyOnSignal       *bool    `json:"notifyOnSignal,omitempty"`
	NotifyOnTrade        *bool    `json:"notifyOnTrade,omitempty"`
}

// Balance holds per-asset free balances, keyed by lower-case asset code.
type Balance struct {
	Assets map[string]decimal.Decimal
}

// Amount returns the balance of asset, or zero when it is absent.
func (b *Balance) Amount(asset string) decimal.Decimal {
	if b == nil || b.Assets == nil {
		return decimal.Zero
	}
	if d, ok := b.Assets[strings.ToLower(asset)]; ok {
		return d
	}
	return decimal.Zero
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Assets = make(map[string]decimal.Decimal, len(raw))
	for asset, v := range raw {
		b.Assets[strings.ToLower(asset)] = ParseDecimal(string(bytes.Trim(v, `"`)))
	}
	return nil
}

func (b Balance) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(b.Assets))
	for asset, d := range b.Assets {
		out[asset] = d.String()
	}
	return json.Marshal(out)
}

// ExecutionPlan is a derived sizing/exit proposal for a signal. It is never
// persisted.
type ExecutionPlan struct {
	SizePercent  decimal.Decimal `json:"sizePercent"`
	StopLoss     decimal.Decimal `json:"stopLoss"`
	TakeProfit   decimal.Decimal `json:"takeProfit"`
	NotionalCost decimal.Decimal `json:"notionalCost"`
	CoinAmount   decimal.Decimal `json:"coinAmount"`
}
