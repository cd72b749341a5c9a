package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/botdash/pkg/backend"
	"github.com/gregtusar/botdash/pkg/models"
	"github.com/gregtusar/botdash/pkg/sizing"
	"github.com/gregtusar/botdash/pkg/stream"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func num(f float64) *models.Number {
	n := models.Number(f)
	return &n
}

type fakeClient struct {
	mu          sync.Mutex
	signals     []models.PendingSignal
	resolved    map[string]models.SignalStatus
	balanceErr  error
	settingsErr error
	writeErr    error
	botActive   bool
	updated     *models.Settings
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		signals: []models.PendingSignal{{
			ID:            "s1",
			Pair:          "btc_idr",
			Action:        models.ActionBuy,
			EntryPrice:    100000000,
			StopLoss:      95000000,
			TargetPrice:   110000000,
			AmountPercent: num(20),
			Status:        models.SignalStatusPending,
		}},
		resolved: map[string]models.SignalStatus{},
	}
}

func (f *fakeClient) MarketSummaries(context.Context) (models.MarketSnapshot, error) {
	return models.MarketSnapshot{Tickers: map[string]models.RawTicker{
		"btc_idr":  {"last": 100000000, "vol_idr": 900},
		"pepe_idr": {"last": 0.45, "vol_idr": 10},
		"eth_usdt": {"last": 3000, "vol_idr": 1e9},
	}}, nil
}

func (f *fakeClient) Ticker(context.Context, string) (models.RawTicker, error) {
	return models.RawTicker{}, nil
}

func (f *fakeClient) BotStatus(context.Context) (models.BotStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.BotStatus{Active: f.botActive, TradingMode: "MANUAL"}, nil
}

func (f *fakeClient) PendingSignals(context.Context) ([]models.PendingSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingSignal
	for _, s := range f.signals {
		if _, done := f.resolved[s.ID]; !done {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeClient) SignalStats(context.Context) (models.SignalStats, error) {
	var s models.SignalStats
	s.Signals.Pending = 1
	return s, nil
}

func (f *fakeClient) Balance(context.Context) (*models.Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &models.Balance{Assets: map[string]decimal.Decimal{"idr": decimal.NewFromInt(5000000)}}, nil
}

func (f *fakeClient) Positions(context.Context) ([]models.OpenPosition, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return []models.OpenPosition{
		{ID: "p1", Pair: "pepe_idr", EntryPrice: 0.4, Amount: 1000},
		{ID: "p2", Pair: "doge_idr", EntryPrice: 2, Amount: 10},
	}, nil
}

func (f *fakeClient) Settings(context.Context) (models.Settings, error) {
	if f.settingsErr != nil {
		return models.Settings{}, f.settingsErr
	}
	return models.Settings{
		RiskConfig:   models.RiskConfig{MaxPositionPercent: num(10)},
		AllowedPairs: []string{"pepe_idr"},
	}, nil
}

func (f *fakeClient) UpdateSettings(_ context.Context, s models.Settings) (models.Settings, error) {
	f.updated = &s
	return s, f.writeErr
}

func (f *fakeClient) ApproveSignal(_ context.Context, id string) error {
	return f.resolve(id, models.SignalStatusApproved)
}

func (f *fakeClient) RejectSignal(_ context.Context, id string) error {
	return f.resolve(id, models.SignalStatusRejected)
}

func (f *fakeClient) resolve(id string, st models.SignalStatus) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[id] = st
	return nil
}

func (f *fakeClient) StartBot(context.Context) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.botActive = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) StopBot(context.Context) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.botActive = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) GenerateSignal(_ context.Context, pair string) (*models.PendingSignal, error) {
	s := models.PendingSignal{ID: "g1", Pair: pair, Action: models.ActionHold}
	f.mu.Lock()
	f.signals = append(f.signals, s)
	f.mu.Unlock()
	return &s, nil
}

type fakeNotifier struct {
	got chan models.SignalEvent
}

func (n *fakeNotifier) NotifySignal(_ context.Context, ev models.SignalEvent) error {
	n.got <- ev
	return nil
}

func newTestDashboard(t *testing.T, client backend.Client) *Dashboard {
	t.Helper()
	// No token, so the transport never dials.
	tr := stream.NewTransport(stream.DefaultOptions("http://127.0.0.1:1", ""), testLogger())
	d := New(client, tr, nil, Config{Quote: "idr", TopN: 10, Policy: sizing.DefaultPolicy()}, testLogger())
	t.Cleanup(d.Stop)
	return d
}

func TestStartLoadsAllSections(t *testing.T) {
	d := newTestDashboard(t, newFakeClient())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := d.Status()
	for name, state := range st.Sections {
		if state != SectionReady {
			t.Errorf("section %s got %s", name, state)
		}
	}
	if st.StreamConnected {
		t.Error("stream should not be connected without a token")
	}
	if len(st.TrackedPairs) != 1 || st.TrackedPairs[0] != "pepe_idr" {
		t.Errorf("tracked pairs got %v", st.TrackedPairs)
	}
	if st.Bot.TradingMode != "MANUAL" || st.Stats.Signals.Pending != 1 {
		t.Errorf("status got %+v", st)
	}

	markets := d.Markets()
	if len(markets) != 2 || markets[0].Pair != "btcidr" {
		t.Fatalf("markets got %+v", markets)
	}
	if got := d.Signals(); len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("signals got %+v", got)
	}
}

func TestStreamPriceUpdatesValuation(t *testing.T) {
	d := newTestDashboard(t, newFakeClient())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	vals := d.Valuations()
	if len(vals) != 2 {
		t.Fatalf("valuations got %d", len(vals))
	}
	if vals[0].CurrentPrice != 0.45 || vals[0].PriceSource != models.PriceSourceLive {
		t.Errorf("snapshot valuation got %+v", vals[0])
	}
	if vals[1].CurrentPrice != 2 || vals[1].PriceSource != models.PriceSourceEntry {
		t.Errorf("missing instrument should fall back to entry, got %+v", vals[1])
	}

	d.onMarketSummary(json.RawMessage(`[{"pair":"pepeidr","last":"0.5","change24h":"1","volume24h":"11"}]`))
	if got := d.Valuations()[0].CurrentPrice; got != 0.5 {
		t.Fatalf("current price after stream tick got %v want 0.5", got)
	}
}

func TestAccountSectionsDegrade(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SectionState
	}{
		{"not configured", fmt.Errorf("%w: keys missing", backend.ErrNotConfigured), SectionNotConfigured},
		{"unavailable", errors.New("connection reset"), SectionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient()
			c.balanceErr = tt.err
			d := newTestDashboard(t, c)
			if err := d.Start(context.Background()); err != nil {
				t.Fatalf("account failures must not fail the load: %v", err)
			}
			st := d.Status()
			if st.Sections["balance"] != tt.want || st.Sections["positions"] != tt.want {
				t.Errorf("sections got %v", st.Sections)
			}
			if st.Sections["markets"] != SectionReady {
				t.Errorf("markets should still be ready, got %s", st.Sections["markets"])
			}
			if len(d.Valuations()) != 0 {
				t.Error("no positions expected")
			}
		})
	}
}

func TestPlan(t *testing.T) {
	c := newFakeClient()
	d := newTestDashboard(t, c)
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r, err := d.Plan(context.Background(), "s1", sizing.ModeAI)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Actual.SizePercent.Equal(decimal.NewFromInt(10)) ||
		!r.Actual.NotionalCost.Equal(decimal.NewFromInt(500000)) ||
		!r.Actual.CoinAmount.Equal(decimal.RequireFromString("0.005")) || !r.Valid {
		t.Fatalf("plan got %+v", r.Actual)
	}

	if _, err := d.Plan(context.Background(), "missing", sizing.ModeAI); !errors.Is(err, ErrSignalNotFound) {
		t.Fatalf("expected ErrSignalNotFound, got %v", err)
	}

	c.settingsErr = errors.New("settings down")
	r, err = d.Plan(context.Background(), "s1", sizing.ModeUser)
	if err != nil {
		t.Fatal(err)
	}
	if !r.UserMaxPercent.Equal(decimal.NewFromInt(10)) || !r.Actual.StopLoss.Equal(decimal.NewFromInt(95000000)) {
		t.Fatalf("defaults plan got %+v", r)
	}
}

func TestApproveAndReject(t *testing.T) {
	c := newFakeClient()
	d := newTestDashboard(t, c)
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.writeErr = &backend.APIError{StatusCode: 409, Message: "already resolved"}
	if err := d.Approve(context.Background(), "s1"); err == nil {
		t.Fatal("expected approve error")
	}
	if len(d.Signals()) != 1 {
		t.Fatal("failed approve must not change local state")
	}

	c.writeErr = nil
	if err := d.Approve(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if len(d.Signals()) != 0 {
		t.Fatalf("approved signal should leave the pending list, got %v", d.Signals())
	}

	if _, err := d.Analyze(context.Background(), "eth_idr"); err != nil {
		t.Fatal(err)
	}
	if err := d.Reject(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	if c.resolved["g1"] != models.SignalStatusRejected {
		t.Fatalf("resolved got %v", c.resolved)
	}
}

func TestBotToggle(t *testing.T) {
	c := newFakeClient()
	d := newTestDashboard(t, c)

	if err := d.StartBot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !d.Status().Bot.Active {
		t.Fatal("bot should be active")
	}

	c.writeErr = errors.New("nope")
	if err := d.StopBot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !d.Status().Bot.Active {
		t.Fatal("failed stop must not change local state")
	}
}

func TestUpdateRiskConfig(t *testing.T) {
	c := newFakeClient()
	d := newTestDashboard(t, c)
	if _, err := d.UpdateRiskConfig(context.Background(), models.RiskConfig{StopLossPercent: num(3)}); err != nil {
		t.Fatal(err)
	}
	if c.updated == nil || *c.updated.StopLossPercent != 3 {
		t.Fatalf("update got %+v", c.updated)
	}
}

func TestSignalNotification(t *testing.T) {
	n := &fakeNotifier{got: make(chan models.SignalEvent, 1)}
	tr := stream.NewTransport(stream.DefaultOptions("http://127.0.0.1:1", ""), testLogger())
	d := New(newFakeClient(), tr, n, Config{Policy: sizing.DefaultPolicy()}, testLogger())

	d.onSignalNew(context.Background(), json.RawMessage(`{"id":"s9","pair":"btc_idr","action":"buy","confidence":0.7}`))
	select {
	case ev := <-n.got:
		if ev.ID != "s9" || ev.Action != models.ActionBuy {
			t.Fatalf("event got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not sent")
	}
}

func TestLogoutClearsState(t *testing.T) {
	d := newTestDashboard(t, newFakeClient())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.Logout()
	if len(d.Signals()) != 0 || len(d.Valuations()) != 0 || d.Status().Balance != nil {
		t.Fatal("logout should clear account and signal state")
	}
}
