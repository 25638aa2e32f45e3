// Package server assembles the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eden-finance/nigerian-money-market/internal/server/handler"
	"github.com/eden-finance/nigerian-money-market/internal/server/middleware"
	"github.com/eden-finance/nigerian-money-market/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Market    *handler.MarketHandler
	Custody   *handler.CustodyHandler
	Multisig  *handler.MultisigHandler
	Reports   *handler.ReportHandler
	Audit     *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server for the money market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket
// hub when one is provided.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Position lifecycle.
	mux.HandleFunc("POST /api/positions", handlers.Positions.CreatePosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/withdraw", handlers.Positions.WithdrawPosition)
	mux.HandleFunc("POST /api/positions/mature", handlers.Positions.MaturePositions)

	// Market configuration.
	mux.HandleFunc("GET /api/market", handlers.Market.GetMarket)
	mux.HandleFunc("PUT /api/market", handlers.Market.UpdateMarket)

	// Signer set.
	mux.HandleFunc("GET /api/multisig", handlers.Multisig.GetConfig)
	mux.HandleFunc("PUT /api/multisig", handlers.Multisig.Configure)

	// Custody workflow.
	mux.HandleFunc("POST /api/custody/propose", handlers.Custody.Propose)
	mux.HandleFunc("GET /api/custody", handlers.Custody.ListTransactions)
	mux.HandleFunc("GET /api/custody/{id}", handlers.Custody.GetTransaction)
	mux.HandleFunc("POST /api/custody/{id}/sign", handlers.Custody.Sign)
	mux.HandleFunc("POST /api/custody/{id}/execute", handlers.Custody.Execute)

	// Reports and audit.
	mux.HandleFunc("POST /api/reports/archive", handlers.Reports.ArchiveReport)
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
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
