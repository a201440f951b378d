// Package server exposes the bot's HTTP and WebSocket API: health, position
// listing with sell ledgers, manual sell requests, and a live event stream
// for the dashboard.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/server/handler"
	"github.com/cachelabs/solsniper/internal/server/middleware"
	"github.com/cachelabs/solsniper/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter with RateLimitPerMin > 0 enables per-IP request limiting.
	RateLimiter     domain.RateLimiter
	RateLimitPerMin int
}

// Handlers aggregates the HTTP handlers the server registers. Trades is
// optional; when nil the buy endpoint is not exposed.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Status    *handler.StatusHandler
	Trades    *handler.TradeHandler
}

// Server is the headless HTTP + WebSocket API server for the sniper bot.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered, wrapped in the
// logging, CORS, and auth middleware.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required for the probe path would need a split
	// chain; the API key also covers it).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{address}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions/{address}/pnl", handlers.Positions.GetRealizedPnL)
	mux.HandleFunc("POST /api/positions/{address}/sell", handlers.Positions.RequestSell)

	if handlers.Trades != nil {
		mux.HandleFunc("POST /api/buy", handlers.Trades.Buy)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.RateLimiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
