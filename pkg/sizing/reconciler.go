// Package sizing turns a signal, the user's risk policy and the account
// balance into an executable plan.
package sizing

import (
	"fmt"
	"strings"

	"github.com/gregtusar/botdash/pkg/models"
	"github.com/shopspring/decimal"
)

// Mode selects which stop-loss/take-profit pair the actual plan uses. It never
// affects sizing.
type Mode string

const (
	ModeAI   Mode = "ai"
	ModeUser Mode = "user"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAI:
		return ModeAI, nil
	case ModeUser:
		return ModeUser, nil
	default:
		return "", fmt.Errorf("unknown stop-loss mode %q (want ai or user)", s)
	}
}

var hundred = decimal.NewFromInt(100)

// Policy carries the defaults used when the signal or risk config leaves a
// field unset.
type Policy struct {
	Quote                    string
	MinNotional              decimal.Decimal
	DefaultPositionPercent   decimal.Decimal
	DefaultStopLossPercent   decimal.Decimal
	DefaultTakeProfitPercent decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		Quote:                    "idr",
		MinNotional:              decimal.NewFromInt(50000),
		DefaultPositionPercent:   decimal.NewFromInt(10),
		DefaultStopLossPercent:   decimal.NewFromInt(5),
		DefaultTakeProfitPercent: decimal.NewFromInt(10),
	}
}

// Result holds both candidate plans and the plan that would be submitted.
type Result struct {
	SignalID       string               `json:"signalId"`
	Pair           string               `json:"pair"`
	Mode           Mode                 `json:"mode"`
	AIPercent      decimal.Decimal      `json:"aiPercent"`
	UserMaxPercent decimal.Decimal      `json:"userMaxPercent"`
	Balance        decimal.Decimal      `json:"balance"`
	AI             models.ExecutionPlan `json:"ai"`
	User           models.ExecutionPlan `json:"user"`
	Actual         models.ExecutionPlan `json:"actual"`
	// Valid is false when the actual cost is under the minimum notional. The
	// plan is still returned and may still be approved.
	Valid   bool   `json:"valid"`
	Warning string `json:"warning,omitempty"`
}

// Reconcile sizes signal at min(AI percent, user ceiling) of the quote
// balance. It has no side effects.
func (p Policy) Reconcile(signal models.PendingSignal, risk models.RiskConfig, balance *models.Balance, mode Mode) Result {
	if mode != ModeUser {
		mode = ModeAI
	}

	aiPercent := orDefault(signal.AmountPercent, p.DefaultPositionPercent)
	userMax := orDefault(risk.MaxPositionPercent, p.DefaultPositionPercent)
	actual := decimal.Min(aiPercent, userMax)

	funds := balance.Amount(p.Quote)
	entry := signal.EntryPrice.Decimal()

	aiSL, aiTP := signal.StopLoss.Decimal(), signal.TargetPrice.Decimal()
	slPct := orDefault(risk.StopLossPercent, p.DefaultStopLossPercent)
	tpPct := orDefault(risk.TakeProfitPercent, p.DefaultTakeProfitPercent)
	userSL := entry.Mul(decimal.NewFromInt(1).Sub(slPct.Div(hundred)))
	userTP := entry.Mul(decimal.NewFromInt(1).Add(tpPct.Div(hundred)))

	r := Result{
		SignalID:       signal.ID,
		Pair:           signal.Pair,
		Mode:           mode,
		AIPercent:      aiPercent,
		UserMaxPercent: userMax,
		Balance:        funds,
		AI:             plan(funds, entry, aiPercent, aiSL, aiTP),
		User:           plan(funds, entry, userMax, userSL, userTP),
	}
	if mode == ModeUser {
		r.Actual = plan(funds, entry, actual, userSL, userTP)
	} else {
		r.Actual = plan(funds, entry, actual, aiSL, aiTP)
	}

	r.Valid = r.Actual.NotionalCost.GreaterThanOrEqual(p.MinNotional)
	if !r.Valid {
		r.Warning = fmt.Sprintf("order cost %s %s is below the minimum of %s %s",
			r.Actual.NotionalCost.StringFixed(2), strings.ToUpper(p.Quote),
			p.MinNotional.String(), strings.ToUpper(p.Quote))
	}
	return r
}

func plan(funds, entry, percent, stopLoss, takeProfit decimal.Decimal) models.ExecutionPlan {
	cost := funds.Mul(percent).Div(hundred)
	coins := decimal.Zero
	if entry.IsPositive() {
		coins = cost.Div(entry)
	}
	return models.ExecutionPlan{
		SizePercent:  percent,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		NotionalCost: cost,
		CoinAmount:   coins,
	}
}

func orDefault(n *models.Number, def decimal.Decimal) decimal.Decimal {
	if n == nil || *n == 0 {
		return def
	}
	return n.Decimal()
}
