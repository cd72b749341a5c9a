package models

import (
	"errors"
	"strings"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type SignalStatus string

const (
	SignalStatusPending  SignalStatus = "PENDING"
	SignalStatusApproved SignalStatus = "APPROVED"
	SignalStatusRejected SignalStatus = "REJECTED"
)

// PendingSignal is an AI trade recommendation awaiting operator approval.
type PendingSignal struct {
	ID            string       `json:"id"`
	Pair          string       `json:"pair"`
	Action        Action       `json:"action"`
	Confidence    Number       `json:"confidence"`
	EntryPrice    Number       `json:"entryPrice"`
	StopLoss      Number       `json:"stopLoss"`
	TargetPrice   Number       `json:"targetPrice"`
	AmountPercent *Number      `json:"amountPercent,omitempty"`
	Reasoning     string       `json:"reasoning"`
	Status        SignalStatus `json:"status"`
	CreatedAt     string       `json:"createdAt"`
	Analysis      *Analysis    `json:"analysis,omitempty"`
}

// Normalize coerces the fields the rest of the core relies on: the action is
// upper-cased (unknown actions become HOLD) and confidence is clamped to [0,1].
func (s *PendingSignal) Normalize() {
	switch a := Action(strings.ToUpper(strings.TrimSpace(string(s.Action)))); a {
	case ActionBuy, ActionSell, ActionHold:
		s.Action = a
	default:
		s.Action = ActionHold
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	if s.Status == "" {
		s.Status = SignalStatusPending
	}
}

func (s *PendingSignal) Validate() error {
	if s.ID == "" {
		return errors.New("signal ID must not be empty")
	}
	if s.Pair == "" {
		return errors.New("signal pair must not be empty")
	}
	return nil
}

// Analysis is the optional technical breakdown attached to a signal.
type Analysis struct {
	Trend struct {
		Direction string `json:"direction"`
		Strength  string `json:"strength"`
	} `json:"trend"`
	Indicators struct {
		RSI struct {
			Value  Number `json:"value"`
			Signal string `json:"signal"`
		} `json:"rsi"`
		MACD struct {
			Signal string `json:"signal"`
		} `json:"macd"`
		BollingerBands struct {
			Position string `json:"position"`
		} `json:"bollingerBands"`
		Volume struct {
			Trend string `json:"trend"`
		} `json:"volume"`
		EMA struct {
			Crossover string `json:"crossover"`
		} `json:"ema"`
	} `json:"indicators"`
	RiskReward struct {
		Ratio      Number `json:"ratio"`
		Assessment string `json:"assessment"`
	} `json:"riskReward"`
	SupportResistance struct {
		Support    []Number `json:"support"`
		Resistance []Number `json:"resistance"`
	} `json:"supportResistance"`
	PriceAction string `json:"priceAction,omitempty"`
}

// SignalEvent is the payload of signal:new and signal:update stream events.
type SignalEvent struct {
	ID         string       `json:"id"`
	Pair       string       `json:"pair"`
	Action     Action       `json:"action"`
	Confidence Number       `json:"confidence"`
	Status     SignalStatus `json:"status"`
	Reasoning  string       `json:"reasoning"`
	CreatedAt  string       `json:"createdAt"`
}

// SignalStats is the backend's signal/trade summary.
type SignalStats struct {
	Signals struct {
		Total    Number `json:"total"`
		Pending  Number `json:"pending"`
		Approved Number `json:"approved"`
		Rejected Number `json:"rejected"`
	} `json:"signals"`
	Trades struct {
		Total   Number `json:"total"`
		WinRate Text   `json:"winRate"`
	} `json:"trades"`
}

// BotStatus reports whether the backend's trading loop is running.
type BotStatus struct {
	Active      bool   `json:"active"`
	TradingMode string `json:"tradingMode"`
}
