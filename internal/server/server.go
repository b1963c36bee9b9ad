// Package server assembles the HTTP API: routes, middleware chain, and the
// WebSocket event feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/outcomelabs/settle/internal/server/handler"
	"github.com/outcomelabs/settle/internal/server/middleware"
	"github.com/outcomelabs/settle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Trading    *handler.TradingHandler
	Resolution *handler.ResolutionHandler
	Accounts   *handler.AccountHandler
	Events     *handler.EventsHandler
	Admin      *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the
// ServeMux and the middleware chain (logging, CORS, auth) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required once auth moves route-level; for now
	// the whole chain is keyed).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("DELETE /api/markets/{id}", handlers.Markets.PruneMarket)
	mux.HandleFunc("GET /api/markets/{id}/metrics/{outcome}", handlers.Markets.GetMetrics)

	// Betting and AMM trading.
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Trading.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trading.BuyShares)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Trading.SellShares)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trading.Quote)

	// Resolution and disputes.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Resolution.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/result", handlers.Resolution.SetResult)
	mux.HandleFunc("POST /api/markets/{id}/votes", handlers.Resolution.CastVote)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Resolution.FinalizeDispute)

	// Settlement and balances.
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Accounts.Claim)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{address}/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/{address}/withdraw", handlers.Accounts.Withdraw)

	// Event history.
	mux.HandleFunc("GET /api/markets/{id}/events", handlers.Events.ListByMarket)

	// Circuit breaker.
	mux.HandleFunc("GET /api/admin/freeze", handlers.Admin.GetFreeze)
	mux.HandleFunc("PUT /api/admin/freeze", handlers.Admin.SetFreeze)

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
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

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
