// Package server wires storage, the conflict engine, the gateway and the
// WebSocket endpoint into one HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldops/worksync/internal/auth"
	"github.com/fieldops/worksync/internal/config"
	"github.com/fieldops/worksync/internal/conflict"
	"github.com/fieldops/worksync/internal/gateway"
	"github.com/fieldops/worksync/internal/ratelimit"
	"github.com/fieldops/worksync/internal/server/handlers"
	"github.com/fieldops/worksync/internal/server/middleware"
	"github.com/fieldops/worksync/internal/server/storage/sqlite"
	syncsvc "github.com/fieldops/worksync/internal/sync"
	"github.com/fieldops/worksync/internal/transport/memory"
	"github.com/fieldops/worksync/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

// Server is the assembled worksync server.
type Server struct {
	httpServer *http.Server
	storage    *sqlite.Storage
	hub        *memory.Hub
	logger     *slog.Logger
}

// New builds the full dependency graph from configuration.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, version string) (*Server, error) {
	store, err := sqlite.New(ctx, cfg.Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	hub := memory.NewHub(logger)

	engine := conflict.New(conflict.Config{
		Enabled:                    cfg.Conflict.Enabled,
		AllowProgressDecrease:      cfg.Conflict.AllowProgressDecrease,
		LargeProgressDiffThreshold: cfg.Conflict.LargeProgressDiffThreshold,
	}, logger)

	mutations := syncsvc.New(store, engine, hub, logger)
	hub.SetPublishHandler(mutations.HandlePublish)

	verifier := auth.NewVerifier(auth.VerifierConfig{
		Secret:    []byte(cfg.Auth.Secret),
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	}, logger)

	limiter := ratelimit.New(ratelimit.Config{
		MaxConnectionsPerIP:           cfg.Limits.MaxConnectionsPerIP,
		MaxSubscriptionsPerConnection: cfg.Limits.MaxSubscriptionsPerConnection,
		MessagesPerSecond:             cfg.Limits.MessagesPerSecond,
	}, logger)

	gw := gateway.New(hub, verifier, auth.NewAuthorizer(logger), limiter, gateway.Config{
		BlockOnViolation: cfg.Gateway.BlockOnViolation,
		LogViolations:    cfg.Gateway.LogViolations,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws.NewHandler(gw, logger))

	health := handlers.NewHealthHandler(logger, version)
	mux.HandleFunc("GET /health", health.Health)

	stats := handlers.NewStatsHandler(limiter, logger)
	mux.HandleFunc("GET /api/v1/stats/connections/{id}", stats.Connection)
	mux.HandleFunc("GET /api/v1/stats/ips/{ip}", stats.IP)

	handler := middleware.Recovery(logger)(
		middleware.LoggingWithSkip(logger, []string{"/health"})(mux),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		storage: store,
		hub:     hub,
		logger:  logger,
	}, nil
}

// Handler returns the root HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown failed", "error", err)
	}

	return s.Close()
}

// Close releases the server's resources.
func (s *Server) Close() error {
	return s.storage.Close()
}
