package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gregtusar/botdash/pkg/backend"
	"github.com/gregtusar/botdash/pkg/market"
	"github.com/gregtusar/botdash/pkg/models"
	"github.com/gregtusar/botdash/pkg/notify"
	"github.com/gregtusar/botdash/pkg/signals"
	"github.com/gregtusar/botdash/pkg/sizing"
	"github.com/gregtusar/botdash/pkg/stream"
	"github.com/gregtusar/botdash/pkg/valuation"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrSignalNotFound = errors.New("signal not found in pending list")

// SectionState tells a view whether a section has data, is still loading or
// cannot be shown.
type SectionState string

const (
	SectionLoading       SectionState = "loading"
	SectionReady         SectionState = "ready"
	SectionNotConfigured SectionState = "not_configured"
	SectionUnavailable   SectionState = "unavailable"
)

var defaultTrackedPairs = []string{"btc_idr", "eth_idr"}

type Config struct {
	Quote           string
	TopN            int
	RefreshDebounce time.Duration
	Policy          sizing.Policy
}

// Status is the header view: bot state, stats, stream health and which
// sections are renderable.
type Status struct {
	Bot             models.BotStatus        `json:"bot"`
	Stats           models.SignalStats      `json:"stats"`
	Balance         *models.Balance         `json:"balance,omitempty"`
	TrackedPairs    []string                `json:"trackedPairs"`
	StreamConnected bool                    `json:"streamConnected"`
	StreamStale     bool                    `json:"streamStale"`
	Sections        map[string]SectionState `json:"sections"`
	LoadedAt        time.Time               `json:"loadedAt"`
}

// Dashboard owns the live state behind the operator views. The transport is
// injected and shared; Stop only detaches this dashboard's listeners.
type Dashboard struct {
	client    backend.Client
	transport *stream.Transport
	notifier  notify.Notifier
	cfg       Config
	logger    *logrus.Logger

	markets    *market.Aggregator
	signals    *signals.Refresher
	attachment *stream.Attachment

	mu           sync.RWMutex
	status       models.BotStatus
	stats        models.SignalStats
	balance      *models.Balance
	positions    []models.OpenPosition
	trackedPairs []string
	sections     map[string]SectionState
	loadedAt     time.Time
}

func New(client backend.Client, transport *stream.Transport, notifier notify.Notifier, cfg Config, logger *logrus.Logger) *Dashboard {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cfg.Quote == "" {
		cfg.Quote = "idr"
	}
	d := &Dashboard{
		client:       client,
		transport:    transport,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger,
		markets:      market.NewAggregator(cfg.Quote, cfg.TopN),
		trackedPairs: slices.Clone(defaultTrackedPairs),
		sections: map[string]SectionState{
			"markets":   SectionLoading,
			"signals":   SectionLoading,
			"balance":   SectionLoading,
			"positions": SectionLoading,
		},
	}
	d.signals = signals.NewRefresher(client.PendingSignals, cfg.RefreshDebounce, logger)
	d.signals.OnChange(func([]models.PendingSignal) { d.setSection("signals", SectionReady) })
	return d
}

// Start attaches stream listeners, connects the shared transport and runs
// the initial load. A missing credential only disables live updates.
func (d *Dashboard) Start(ctx context.Context) error {
	d.logger.Info("Starting dashboard")

	att := d.transport.Attach()
	att.On(stream.EventMarketSummary, d.onMarketSummary)
	att.On(stream.EventSignalNew, func(payload json.RawMessage) { d.onSignalNew(ctx, payload) })
	att.OnStateChange(func(connected bool) {
		d.logger.WithField("connected", connected).Info("Stream state changed")
		if connected {
			// Events may have been missed while disconnected.
			d.signals.Trigger(ctx)
		}
	})
	d.signals.Attach(ctx, att)

	d.mu.Lock()
	d.attachment = att
	d.mu.Unlock()

	if err := d.transport.Connect(ctx); err != nil {
		if !errors.Is(err, stream.ErrNoCredential) {
			return fmt.Errorf("failed to connect stream: %w", err)
		}
		d.logger.Warn("No session token configured, live updates disabled")
	}

	return d.Load(ctx)
}

// Load fetches every REST section. Market, status, signals and stats load
// together; settings and account sections follow and never fail the load.
func (d *Dashboard) Load(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	var (
		snapshot models.MarketSnapshot
		status   models.BotStatus
		stats    models.SignalStats
	)
	g.Go(func() error {
		var err error
		snapshot, err = d.client.MarketSummaries(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		status, err = d.client.BotStatus(gctx)
		return err
	})
	g.Go(func() error {
		return d.signals.Refresh(gctx)
	})
	g.Go(func() error {
		var err error
		stats, err = d.client.SignalStats(gctx)
		return err
	})

	loadErr := g.Wait()
	if loadErr != nil {
		d.logger.WithError(loadErr).Error("Failed to load dashboard data")
	} else {
		d.markets.LoadSnapshot(snapshot)
		d.mu.Lock()
		d.status = status
		d.stats = stats
		d.sections["markets"] = SectionReady
		d.sections["signals"] = SectionReady
		d.mu.Unlock()
	}

	d.loadSettings(ctx)
	d.loadAccount(ctx)

	d.mu.Lock()
	d.loadedAt = time.Now()
	d.mu.Unlock()

	if loadErr != nil {
		return fmt.Errorf("failed to load dashboard data: %w", loadErr)
	}
	return nil
}

func (d *Dashboard) loadSettings(ctx context.Context) {
	settings, err := d.client.Settings(ctx)
	if err != nil {
		d.logger.WithError(err).Debug("Failed to load settings, keeping tracked pairs")
		return
	}
	pairs := settings.AllowedPairs
	if len(pairs) == 0 {
		pairs = defaultTrackedPairs
	}
	d.mu.Lock()
	d.trackedPairs = slices.Clone(pairs)
	d.mu.Unlock()
}

func (d *Dashboard) loadAccount(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	var (
		balance   *models.Balance
		positions []models.OpenPosition
	)
	g.Go(func() error {
		var err error
		balance, err = d.client.Balance(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = d.client.Positions(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		state := SectionUnavailable
		if errors.Is(err, backend.ErrNotConfigured) {
			state = SectionNotConfigured
		}
		d.logger.WithError(err).WithField("state", state).Info("Account sections degraded")
		d.setSection("balance", state)
		d.setSection("positions", state)
		return
	}

	d.mu.Lock()
	d.balance = balance
	d.positions = positions
	d.sections["balance"] = SectionReady
	d.sections["positions"] = SectionReady
	d.mu.Unlock()
}

func (d *Dashboard) onMarketSummary(payload json.RawMessage) {
	if _, err := d.markets.ApplyMessages(payload); err != nil {
		d.logger.WithError(err).Debug("Dropping malformed market summary")
		return
	}
	d.setSection("markets", SectionReady)
}

func (d *Dashboard) onSignalNew(ctx context.Context, payload json.RawMessage) {
	var ev models.SignalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.logger.WithError(err).Debug("Dropping malformed signal event")
		return
	}
	ev.Action = normalizeAction(ev.Action)
	go func() {
		if err := d.notifier.NotifySignal(ctx, ev); err != nil {
			d.logger.WithError(err).WithField("signal_id", ev.ID).Warn("Failed to send signal notification")
		}
	}()
}

func normalizeAction(a models.Action) models.Action {
	s := models.PendingSignal{Action: a}
	s.Normalize()
	return s.Action
}

func (d *Dashboard) setSection(name string, state SectionState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sections[name] = state
}

// Markets returns the ranked top-N view.
func (d *Dashboard) Markets() []models.Ticker {
	return d.markets.Ranked()
}

// Valuations marks every open position against the latest prices.
func (d *Dashboard) Valuations() []models.Valuation {
	d.mu.RLock()
	positions := slices.Clone(d.positions)
	d.mu.RUnlock()
	return valuation.Value(positions, d.markets.Prices(), d.markets.Ranked())
}

func (d *Dashboard) Signals() []models.PendingSignal {
	return d.signals.Signals()
}

func (d *Dashboard) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sections := make(map[string]SectionState, len(d.sections))
	for k, v := range d.sections {
		sections[k] = v
	}
	return Status{
		Bot:             d.status,
		Stats:           d.stats,
		Balance:         d.balance,
		TrackedPairs:    slices.Clone(d.trackedPairs),
		StreamConnected: d.transport.Connected(),
		StreamStale:     d.transport.Exhausted(),
		Sections:        sections,
		LoadedAt:        d.loadedAt,
	}
}

// Plan sizes a pending signal. The risk configuration is fetched fresh; if
// that fails the policy defaults apply.
func (d *Dashboard) Plan(ctx context.Context, signalID string, mode sizing.Mode) (sizing.Result, error) {
	sig, ok := d.signals.Find(signalID)
	if !ok {
		return sizing.Result{}, fmt.Errorf("%w: %s", ErrSignalNotFound, signalID)
	}

	var risk models.RiskConfig
	if settings, err := d.client.Settings(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to fetch risk configuration, using defaults")
	} else {
		risk = settings.RiskConfig
	}

	d.mu.RLock()
	balance := d.balance
	d.mu.RUnlock()

	return d.cfg.Policy.Reconcile(sig, risk, balance, mode), nil
}

// Approve marks a signal approved. Local state changes only after the write
// succeeds.
func (d *Dashboard) Approve(ctx context.Context, signalID string) error {
	if err := d.client.ApproveSignal(ctx, signalID); err != nil {
		return err
	}
	d.logger.WithField("signal_id", signalID).Info("Signal approved")
	d.afterResolve(ctx, signalID)
	return nil
}

func (d *Dashboard) Reject(ctx context.Context, signalID string) error {
	if err := d.client.RejectSignal(ctx, signalID); err != nil {
		return err
	}
	d.logger.WithField("signal_id", signalID).Info("Signal rejected")
	d.afterResolve(ctx, signalID)
	return nil
}

func (d *Dashboard) afterResolve(ctx context.Context, signalID string) {
	d.signals.Remove(signalID)
	if err := d.Load(ctx); err != nil {
		d.logger.WithError(err).Warn("Reload after signal resolution failed")
	}
}

func (d *Dashboard) StartBot(ctx context.Context) error {
	if err := d.client.StartBot(ctx); err != nil {
		return err
	}
	d.setBotActive(true)
	return nil
}

func (d *Dashboard) StopBot(ctx context.Context) error {
	if err := d.client.StopBot(ctx); err != nil {
		return err
	}
	d.setBotActive(false)
	return nil
}

func (d *Dashboard) setBotActive(active bool) {
	d.mu.Lock()
	d.status.Active = active
	d.mu.Unlock()
	d.logger.WithField("active", active).Info("Bot state changed")
}

// UpdateRiskConfig writes the user's risk policy and returns the stored
// settings.
func (d *Dashboard) UpdateRiskConfig(ctx context.Context, rc models.RiskConfig) (models.Settings, error) {
	return d.client.UpdateSettings(ctx, models.Settings{RiskConfig: rc})
}

// Analyze requests an immediate AI analysis of pair and refreshes the
// pending list.
func (d *Dashboard) Analyze(ctx context.Context, pair string) (*models.PendingSignal, error) {
	sig, err := d.client.GenerateSignal(ctx, pair)
	if err != nil {
		return nil, err
	}
	if err := d.signals.Refresh(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to refresh pending signals after analysis")
	}
	return sig, nil
}

// Stop detaches this dashboard from the stream. The shared connection stays
// up for other consumers.
func (d *Dashboard) Stop() {
	d.logger.Info("Stopping dashboard")
	d.mu.Lock()
	att := d.attachment
	d.attachment = nil
	d.mu.Unlock()
	if att != nil {
		att.Detach()
	}
	d.signals.Stop()
}

// Logout stops the dashboard and tears the stream connection down.
func (d *Dashboard) Logout() {
	d.Stop()
	d.transport.Disconnect()
	d.signals.Replace(nil)
	d.mu.Lock()
	d.balance = nil
	d.positions = nil
	d.mu.Unlock()
}
