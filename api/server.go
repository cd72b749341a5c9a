package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gregtusar/botdash/pkg/backend"
	"github.com/gregtusar/botdash/pkg/dashboard"
	"github.com/gregtusar/botdash/pkg/models"
	"github.com/gregtusar/botdash/pkg/sizing"
	"github.com/sirupsen/logrus"
)

// Dashboard is the view and action surface the server exposes.
type Dashboard interface {
	Status() dashboard.Status
	Markets() []models.Ticker
	Valuations() []models.Valuation
	Signals() []models.PendingSignal
	Plan(ctx context.Context, signalID string, mode sizing.Mode) (sizing.Result, error)
	Approve(ctx context.Context, signalID string) error
	Reject(ctx context.Context, signalID string) error
	StartBot(ctx context.Context) error
	StopBot(ctx context.Context) error
	UpdateRiskConfig(ctx context.Context, rc models.RiskConfig) (models.Settings, error)
	Analyze(ctx context.Context, pair string) (*models.PendingSignal, error)
}

type Server struct {
	dash   Dashboard
	logger *logrus.Logger
	port   string
	srv    *http.Server
}

func NewServer(dash Dashboard, logger *logrus.Logger, port string) *Server {
	return &Server{
		dash:   dash,
		logger: logger,
		port:   port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/markets", s.handleMarkets)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/api/plan", s.handlePlan)
	mux.HandleFunc("POST /api/signals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/signals/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/bot/{action}", s.handleBot)
	mux.HandleFunc("PATCH /api/settings/risk", s.handleRiskConfig)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)

	return corsMiddleware(mux)
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting API server on port %s", s.port)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.dash.Status())
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.dash.Markets())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.dash.Valuations())
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.dash.Signals())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("signal")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "signal query parameter is required")
		return
	}
	mode, err := sizing.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := s.dash.Plan(r.Context(), id, mode)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Approve(r.Context(), r.PathValue("id")); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.SignalStatusApproved)})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Reject(r.Context(), r.PathValue("id")); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.SignalStatusRejected)})
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("action") {
	case "start":
		err = s.dash.StartBot(r.Context())
	case "stop":
		err = s.dash.StopBot(r.Context())
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.dash.Status().Bot)
}

func (s *Server) handleRiskConfig(w http.ResponseWriter, r *http.Request) {
	var rc models.RiskConfig
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings, err := s.dash.UpdateRiskConfig(r.Context(), rc)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pair string `json:"pair"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pair == "" {
		s.writeError(w, http.StatusBadRequest, "pair is required")
		return
	}
	sig, err := s.dash.Analyze(r.Context(), body.Pair)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sig)
}

// writeActionError surfaces the backend's message to the operator verbatim.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, dashboard.ErrSignalNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		s.writeError(w, apiErr.StatusCode, apiErr.Message)
	default:
		s.logger.WithError(err).Error("Dashboard action failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
