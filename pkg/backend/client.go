package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/botdash/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrUnauthorized  = errors.New("backend: unauthorized")
	ErrNotConfigured = errors.New("backend: exchange credentials not configured")
)

// APIError is a non-2xx response. Message carries the backend's own
// message/error body field when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client is the REST surface of the bot backend used by the dashboard.
type Client interface {
	MarketSummaries(ctx context.Context) (models.MarketSnapshot, error)
	Ticker(ctx context.Context, pair string) (models.RawTicker, error)
	BotStatus(ctx context.Context) (models.BotStatus, error)
	PendingSignals(ctx context.Context) ([]models.PendingSignal, error)
	SignalStats(ctx context.Context) (models.SignalStats, error)
	Balance(ctx context.Context) (*models.Balance, error)
	Positions(ctx context.Context) ([]models.OpenPosition, error)
	Settings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, s models.Settings) (models.Settings, error)
	ApproveSignal(ctx context.Context, id string) error
	RejectSignal(ctx context.Context, id string) error
	StartBot(ctx context.Context) error
	StopBot(ctx context.Context) error
	GenerateSignal(ctx context.Context, pair string) (*models.PendingSignal, error)
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	// OnUnauthorized runs after a 401, once the session token is cleared.
	OnUnauthorized func()
}

type HTTPClient struct {
	baseURL        string
	auth           Authenticator
	httpClient     *http.Client
	limiter        *rate.Limiter
	onUnauthorized func()
	logger         *logrus.Logger
}

func NewHTTPClient(opts Options, auth Authenticator, logger *logrus.Logger) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		auth:           auth,
		httpClient:     &http.Client{Timeout: opts.Timeout},
		limiter:        rate.NewLimiter(limit, opts.Burst),
		onUnauthorized: opts.OnUnauthorized,
		logger:         logger,
	}
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.auth != nil {
		if err := c.auth.AddAuthHeaders(req); err != nil {
			return fmt.Errorf("failed to add auth headers: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"duration":   time.Since(start),
	}).Debug("Backend request")

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized(path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// handleUnauthorized drops a rejected session token so it is not replayed.
func (c *HTTPClient) handleUnauthorized(path string) {
	if cl, ok := c.auth.(interface{ Clear() }); ok {
		cl.Clear()
	}
	c.logger.WithField("path", path).Warn("Session token rejected, cleared credentials")
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func errorMessage(data []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return http.StatusText(status)
}

func (c *HTTPClient) MarketSummaries(ctx context.Context) (models.MarketSnapshot, error) {
	var snap models.MarketSnapshot
	err := c.doRequest(ctx, http.MethodGet, "/api/market/summaries", nil, &snap)
	return snap, err
}

func (c *HTTPClient) Ticker(ctx context.Context, pair string) (models.RawTicker, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, "/api/market/ticker/"+url.PathEscape(pair), nil, &raw); err != nil {
		return nil, err
	}
	var wrapped struct {
		Ticker models.RawTicker `json:"ticker"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Ticker != nil {
		return wrapped.Ticker, nil
	}
	var t models.RawTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode ticker: %w", err)
	}
	return t, nil
}

func (c *HTTPClient) BotStatus(ctx context.Context) (models.BotStatus, error) {
	var st models.BotStatus
	err := c.doRequest(ctx, http.MethodGet, "/api/settings/bot/status", nil, &st)
	return st, err
}

// PendingSignals normalizes every record and drops the ones that fail
// validation rather than failing the whole list.
func (c *HTTPClient) PendingSignals(ctx context.Context) ([]models.PendingSignal, error) {
	var resp struct {
		Signals []models.PendingSignal `json:"signals"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/signals/pending", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]models.PendingSignal, 0, len(resp.Signals))
	for _, s := range resp.Signals {
		s.Normalize()
		if err := s.Validate(); err != nil {
			c.logger.WithError(err).Warn("Dropping invalid pending signal")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *HTTPClient) SignalStats(ctx context.Context) (models.SignalStats, error) {
	var st models.SignalStats
	err := c.doRequest(ctx, http.MethodGet, "/api/signals/stats/summary", nil, &st)
	return st, err
}

func (c *HTTPClient) Balance(ctx context.Context) (*models.Balance, error) {
	var resp struct {
		Balance *models.Balance `json:"balance"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/account/balance", nil, &resp); err != nil {
		return nil, classifyAccountError(err)
	}
	if resp.Balance == nil {
		return &models.Balance{}, nil
	}
	return resp.Balance, nil
}

func (c *HTTPClient) Positions(ctx context.Context) ([]models.OpenPosition, error) {
	var resp struct {
		Positions []models.OpenPosition `json:"positions"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/account/positions", nil, &resp); err != nil {
		return nil, classifyAccountError(err)
	}
	return resp.Positions, nil
}

// classifyAccountError marks the responses the backend gives when no
// exchange keys are stored.
func classifyAccountError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %w", ErrNotConfigured, err)
		}
	}
	return err
}

func (c *HTTPClient) Settings(ctx context.Context) (models.Settings, error) {
	var resp struct {
		Settings models.Settings `json:"settings"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/api/settings", nil, &resp)
	return resp.Settings, err
}

func (c *HTTPClient) UpdateSettings(ctx context.Context, s models.Settings) (models.Settings, error) {
	var resp struct {
		Settings models.Settings `json:"settings"`
	}
	err := c.doRequest(ctx, http.MethodPatch, "/api/settings", s, &resp)
	return resp.Settings, err
}

func (c *HTTPClient) ApproveSignal(ctx context.Context, id string) error {
	return c.setSignalStatus(ctx, id, models.SignalStatusApproved)
}

func (c *HTTPClient) RejectSignal(ctx context.Context, id string) error {
	return c.setSignalStatus(ctx, id, models.SignalStatusRejected)
}

func (c *HTTPClient) setSignalStatus(ctx context.Context, id string, status models.SignalStatus) error {
	if id == "" {
		return errors.New("signal id must not be empty")
	}
	body := map[string]models.SignalStatus{"status": status}
	return c.doRequest(ctx, http.MethodPatch, "/api/signals/"+url.PathEscape(id), body, nil)
}

func (c *HTTPClient) StartBot(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/api/settings/bot/start", nil, nil)
}

func (c *HTTPClient) StopBot(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/api/settings/bot/stop", nil, nil)
}

// GenerateSignal asks the backend to analyze pair now.
func (c *HTTPClient) GenerateSignal(ctx context.Context, pair string) (*models.PendingSignal, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, "/api/signals/generate", map[string]string{"pair": pair}, &raw); err != nil {
		return nil, err
	}
	var wrapped struct {
		Signal *models.PendingSignal `json:"signal"`
	}
	sig := &models.PendingSignal{}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Signal != nil {
		sig = wrapped.Signal
	} else if err := json.Unmarshal(raw, sig); err != nil {
		return nil, fmt.Errorf("failed to decode signal: %w", err)
	}
	sig.Normalize()
	return sig, nil
}
