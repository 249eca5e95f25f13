// Package server is the headless HTTP and WebSocket API in front of the
// oracle engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
	"github.com/alanyoungcy/polyoracle/internal/server/handler"
	"github.com/alanyoungcy/polyoracle/internal/server/middleware"
	"github.com/alanyoungcy/polyoracle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKeys gate access; empty disables the check.
	APIKeys []string
	// RateLimit requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health       *handler.HealthHandler
	Status       *handler.StatusHandler
	Admin        *handler.AdminHandler
	Oracles      *handler.OracleHandler
	Markets      *handler.MarketHandler
	Attestations *handler.AttestationHandler
	Overrides    *handler.OverrideHandler
	Events       *handler.EventHandler
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, auth, then rate limiting. limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := NewMux(h, hub)

	var root http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	}
	root = middleware.Auth(cfg.APIKeys, "/api/health", "/metrics")(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// NewMux returns the route table without middleware.
func NewMux(h Handlers, hub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/v1/status", h.Status.GetStatus)

	mux.HandleFunc("POST /api/v1/initialize", h.Admin.Initialize)
	mux.HandleFunc("GET /api/v1/admin", h.Admin.GetConfig)
	mux.HandleFunc("POST /api/v1/admin/signers", h.Admin.AddSigner)
	mux.HandleFunc("PUT /api/v1/admin/required-signatures", h.Admin.SetRequiredSignatures)
	mux.HandleFunc("PUT /api/v1/admin/override-cooldown", h.Admin.SetOverrideCooldown)

	mux.HandleFunc("POST /api/v1/oracles", h.Oracles.Register)
	mux.HandleFunc("GET /api/v1/oracles", h.Oracles.List)
	mux.HandleFunc("GET /api/v1/oracles/{address}", h.Oracles.Get)

	mux.HandleFunc("POST /api/v1/markets", h.Markets.Register)
	mux.HandleFunc("GET /api/v1/markets/{id}", h.Markets.Get)
	mux.HandleFunc("GET /api/v1/markets/{id}/counts", h.Markets.Counts)
	mux.HandleFunc("GET /api/v1/markets/{id}/consensus", h.Markets.Consensus)
	mux.HandleFunc("GET /api/v1/markets/{id}/result", h.Markets.Result)

	mux.HandleFunc("POST /api/v1/markets/{id}/attestations", h.Attestations.Submit)
	mux.HandleFunc("GET /api/v1/markets/{id}/attestations", h.Attestations.List)
	mux.HandleFunc("GET /api/v1/markets/{id}/attestations/{oracle}", h.Attestations.Get)

	mux.HandleFunc("POST /api/v1/markets/{id}/override", h.Overrides.Execute)
	mux.HandleFunc("GET /api/v1/markets/{id}/override", h.Overrides.Get)
	mux.HandleFunc("GET /api/v1/markets/{id}/overrides", h.Overrides.List)
	mux.HandleFunc("GET /api/v1/markets/{id}/overrides/verify", h.Overrides.Verify)

	mux.HandleFunc("GET /api/v1/events", h.Events.List)
	mux.HandleFunc("GET /api/v1/events/stream", h.Events.Stream)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	return mux
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
