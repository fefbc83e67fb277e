// Package api exposes the thin HTTP control surface over the orchestrator
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/internal/infrastructure/health"
	"rebuybot/internal/store"
	"rebuybot/internal/trading/orchestrator"
	apperrors "rebuybot/pkg/errors"
)

// Controller is the orchestrator surface used by the handlers
type Controller interface {
	Start(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	State(ctx context.Context, id int64) (*orchestrator.BotState, error)
	InvalidateCredentials(accountID int64)
}

// BotLister lists bots with their persisted status
type BotLister interface {
	ListBots(ctx context.Context) ([]store.BotRecord, error)
}

// Server is the control API
type Server struct {
	cfg      config.APIConfig
	ctrl     Controller
	bots     BotLister
	health   *health.HealthManager
	gatherer prometheus.Gatherer
	logger   core.ILogger
	srv      *http.Server
}

// NewServer builds the router; gatherer may be nil for the default registry
func NewServer(cfg config.APIConfig, ctrl Controller, bots BotLister, hm *health.HealthManager,
	gatherer prometheus.Gatherer, logger core.ILogger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		bots:     bots,
		health:   hm,
		gatherer: gatherer,
		logger:   logger.WithField("component", "api"),
	}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// corsOrigins falls back to any origin when none are configured. Credentials
// are only allowed for an explicit origin list without wildcards.
func corsOrigins(configured []string) ([]string, bool) {
	if len(configured) == 0 {
		return []string{"*"}, false
	}
	for _, o := range configured {
		if strings.Contains(o, "*") {
			return configured, false
		}
	}
	return configured, true
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	origins, credentials := corsOrigins(s.cfg.AllowedOrigins)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/bots", s.listBots)
		r.Route("/bots/{id}", func(r chi.Router) {
			r.Post("/start", s.startBot)
			r.Post("/stop", s.stopBot)
			r.Get("/status", s.botStatus)
		})
		r.Post("/accounts/{id}/credentials/invalidate", s.invalidateCredentials)
	})

	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Run serves until ctx is done, then shuts the listener down
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control API listening", "addr", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrBotNotFound), errors.Is(err, apperrors.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrAlreadyRunning), errors.Is(err, apperrors.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrInvalidBotConfig):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) startBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid bot id"})
		return
	}
	if err := s.ctrl.Start(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Bot start requested", "bot_id", id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": core.StatusRunning})
}

func (s *Server) stopBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid bot id"})
		return
	}
	if err := s.ctrl.Stop(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Bot stop requested", "bot_id", id)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "status": core.StatusStopping})
}

func (s *Server) botStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid bot id"})
		return
	}
	state, err := s.ctrl.State(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type botSummary struct {
	ID        int64          `json:"id"`
	AccountID int64          `json:"account_id"`
	Symbol    string         `json:"symbol"`
	Status    core.BotStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s *Server) listBots(w http.ResponseWriter, r *http.Request) {
	records, err := s.bots.ListBots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]botSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, botSummary{
			ID:        rec.Config.ID,
			AccountID: rec.Config.AccountID,
			Symbol:    rec.Config.Symbol,
			Status:    rec.Status,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) invalidateCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return
	}
	s.ctrl.InvalidateCredentials(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, health.Report{Status: health.StatusHealthy})
		return
	}
	report := s.health.Check()
	status := http.StatusOK
	if report.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
