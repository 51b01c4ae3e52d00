// Package server assembles the HTTP + WebSocket API for the exchange.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/server/handler"
	"github.com/deedmarket/deedmarket/internal/server/middleware"
	"github.com/deedmarket/deedmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter applies per-client-IP request limiting in front of the
	// whole API when non-nil; RateLimit is requests per minute.
	Limiter   domain.RateLimiter
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Asset  *handler.AssetHandler
	Market *handler.MarketHandler
	Events *handler.EventHandler
}

// Server is the HTTP + WebSocket API server for the exchange.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Marketplace endpoints.
	mux.HandleFunc("POST /api/market/init", handlers.Market.Init)
	mux.HandleFunc("POST /api/market/listings", handlers.Market.CreateListing)
	mux.HandleFunc("GET /api/market/listings", handlers.Market.ListListings)
	mux.HandleFunc("GET /api/market/listings/{name}", handlers.Market.GetListing)
	mux.HandleFunc("DELETE /api/market/listings/{name}", handlers.Market.Delist)
	mux.HandleFunc("POST /api/market/listings/{name}/buy", handlers.Market.Buy)
	mux.HandleFunc("GET /api/market/ownership/{account}", handlers.Market.Ownership)

	// Settlement asset endpoints.
	mux.HandleFunc("POST /api/asset/init", handlers.Asset.InitAsset)
	mux.HandleFunc("POST /api/asset/register", handlers.Asset.Register)
	mux.HandleFunc("POST /api/asset/mint", handlers.Asset.Mint)
	mux.HandleFunc("POST /api/asset/transfer", handlers.Asset.Transfer)
	mux.HandleFunc("POST /api/asset/freeze", handlers.Asset.Freeze)
	mux.HandleFunc("POST /api/asset/burn", handlers.Asset.Burn)
	mux.HandleFunc("POST /api/asset/burn-from", handlers.Asset.BurnFrom)
	mux.HandleFunc("GET /api/asset/balance/{account}", handlers.Asset.Balance)
	mux.HandleFunc("GET /api/asset/meta", handlers.Asset.Meta)
	mux.HandleFunc("GET /api/asset/supply", handlers.Asset.Supply)

	// Event log queries.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute)(h)
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
