package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gregtusar/botdash/pkg/backend"
	"github.com/gregtusar/botdash/pkg/dashboard"
	"github.com/gregtusar/botdash/pkg/models"
	"github.com/gregtusar/botdash/pkg/sizing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type fakeDashboard struct {
	approveErr error
	approved   []string
	rejected   []string
	botActive  bool
	lastMode   sizing.Mode
	risk       models.RiskConfig
}

func (f *fakeDashboard) Status() dashboard.Status {
	return dashboard.Status{
		Bot:      models.BotStatus{Active: f.botActive},
		Sections: map[string]dashboard.SectionState{"balance": dashboard.SectionNotConfigured},
	}
}

func (f *fakeDashboard) Markets() []models.Ticker {
	return []models.Ticker{{Pair: "btcidr", Last: 100, Volume24h: 5}}
}

func (f *fakeDashboard) Valuations() []models.Valuation {
	return []models.Valuation{{Position: models.OpenPosition{ID: "p1", Pair: "pepe_idr"}, CurrentPrice: 0.5, PnLPercent: 25}}
}

func (f *fakeDashboard) Signals() []models.PendingSignal {
	return []models.PendingSignal{{ID: "s1", Pair: "btc_idr", Action: models.ActionBuy}}
}

func (f *fakeDashboard) Plan(_ context.Context, id string, mode sizing.Mode) (sizing.Result, error) {
	if id != "s1" {
		return sizing.Result{}, dashboard.ErrSignalNotFound
	}
	f.lastMode = mode
	return sizing.Result{SignalID: id, Mode: mode, Valid: false, Warning: "below minimum",
		Actual: models.ExecutionPlan{NotionalCost: decimal.NewFromInt(30000)}}, nil
}

func (f *fakeDashboard) Approve(_ context.Context, id string) error {
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeDashboard) Reject(_ context.Context, id string) error {
	f.rejected = append(f.rejected, id)
	return nil
}

func (f *fakeDashboard) StartBot(context.Context) error { f.botActive = true; return nil }
func (f *fakeDashboard) StopBot(context.Context) error  { f.botActive = false; return nil }

func (f *fakeDashboard) UpdateRiskConfig(_ context.Context, rc models.RiskConfig) (models.Settings, error) {
	f.risk = rc
	return models.Settings{RiskConfig: rc}, nil
}

func (f *fakeDashboard) Analyze(_ context.Context, pair string) (*models.PendingSignal, error) {
	return &models.PendingSignal{ID: "g1", Pair: pair}, nil
}

func newTestServer(t *testing.T, d *fakeDashboard) *httptest.Server {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	srv := httptest.NewServer(NewServer(d, l, "0").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	return resp, obj
}

func TestReadEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeDashboard{})

	tests := []struct {
		path string
		want string
	}{
		{"/api/health", `"healthy"`},
		{"/api/status", `"not_configured"`},
		{"/api/markets", `"btcidr"`},
		{"/api/positions", `"pepe_idr"`},
		{"/api/signals", `"s1"`},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status %d", tt.path, resp.StatusCode)
		}
		if !strings.Contains(string(raw), tt.want) {
			t.Errorf("%s body %s missing %s", tt.path, raw, tt.want)
		}
		if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("%s missing CORS header", tt.path)
		}
	}

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/markets", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST markets status %d", resp.StatusCode)
	}
}

func TestPlanEndpoint(t *testing.T) {
	d := &fakeDashboard{}
	srv := newTestServer(t, d)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/plan?signal=s1&mode=user", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["valid"] != false || body["warning"] != "below minimum" {
		t.Errorf("body %v", body)
	}
	if d.lastMode != sizing.ModeUser {
		t.Errorf("mode got %s", d.lastMode)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?signal=s1&mode=both", http.StatusBadRequest},
		{"?signal=missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, _ := do(t, http.MethodGet, srv.URL+"/api/plan"+tt.query, "")
		if resp.StatusCode != tt.want {
			t.Errorf("%q status %d want %d", tt.query, resp.StatusCode, tt.want)
		}
	}
}

func TestSignalActions(t *testing.T) {
	d := &fakeDashboard{}
	srv := newTestServer(t, d)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/signals/s1/approve", "")
	if resp.StatusCode != http.StatusOK || len(d.approved) != 1 || d.approved[0] != "s1" {
		t.Fatalf("approve status %d approved %v", resp.StatusCode, d.approved)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/signals/s2/reject", "")
	if resp.StatusCode != http.StatusOK || len(d.rejected) != 1 || d.rejected[0] != "s2" {
		t.Fatalf("reject status %d rejected %v", resp.StatusCode, d.rejected)
	}

	d.approveErr = &backend.APIError{StatusCode: http.StatusConflict, Message: "Signal already processed"}
	resp, body := do(t, http.MethodPost, srv.URL+"/api/signals/s1/approve", "")
	if resp.StatusCode != http.StatusConflict || body["error"] != "Signal already processed" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}

	d.approveErr = errors.New("dial tcp: refused")
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/signals/s1/approve", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestBotAndSettings(t *testing.T) {
	d := &fakeDashboard{}
	srv := newTestServer(t, d)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/bot/start", "")
	if resp.StatusCode != http.StatusOK || body["active"] != true {
		t.Fatalf("start status %d body %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/bot/dance", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action status %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPatch, srv.URL+"/api/settings/risk", `{"maxPositionPercent":"15"}`)
	if resp.StatusCode != http.StatusOK || d.risk.MaxPositionPercent == nil || *d.risk.MaxPositionPercent != 15 {
		t.Fatalf("risk status %d got %+v", resp.StatusCode, d.risk)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/api/analyze", `{"pair":"eth_idr"}`)
	if resp.StatusCode != http.StatusOK || body["pair"] != "eth_idr" {
		t.Fatalf("analyze status %d body %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/analyze", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty analyze status %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeDashboard{})
	resp, _ := do(t, http.MethodOptions, srv.URL+"/api/signals/s1/approve", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preflight status %d", resp.StatusCode)
	}
}
