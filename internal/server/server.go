// Package server exposes the walletsync HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/trezury/walletsync/internal/server/handler"
	"github.com/trezury/walletsync/internal/server/middleware"
	"github.com/trezury/walletsync/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Balances *handler.BalanceHandler
	Wallets  *handler.WalletHandler
	Books    *handler.BookHandler
}

// Server is the headless HTTP + WebSocket API for the wallet sync service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (auth, logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Balance endpoints.
	mux.HandleFunc("GET /api/v1/balances/{address}", handlers.Balances.GetBalances)
	mux.HandleFunc("DELETE /api/v1/balances/{address}/cache", handlers.Balances.InvalidateBalances)

	// Wallet endpoints.
	mux.HandleFunc("GET /api/v1/wallets/{userID}/active", handlers.Wallets.GetActiveWallet)
	mux.HandleFunc("POST /api/v1/wallets/{userID}", handlers.Wallets.ProvisionWallet)

	// Orderbook endpoints.
	mux.HandleFunc("GET /api/v1/book/{market}", handlers.Books.GetBook)
	mux.HandleFunc("POST /api/v1/book/{market}/watch", handlers.Books.WatchBook)

	// WebSocket endpoint.
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

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
