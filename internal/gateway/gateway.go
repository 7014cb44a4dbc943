// Package gateway exposes the agent's observable surface over HTTP: health,
// status, Prometheus metrics, and the live dashboard context feed. It is a
// read-only window into the process; nothing here mutates agent state.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/luaclaw/luaclaw/internal/observability"
)

// Gateway is the HTTP server wrapping the context hub.
type Gateway struct {
	config    Config
	logger    *slog.Logger
	hub       *Hub
	metrics   *observability.Metrics
	server    *http.Server
	startedAt time.Time
}

// New creates a Gateway. hub is required; metrics may be nil, which disables
// the /metrics endpoint.
func New(cfg Config, hub *Hub, metrics *observability.Metrics, logger *slog.Logger) (*Gateway, error) {
	if hub == nil {
		return nil, errors.New("gateway: hub is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	if _, err := net.ResolveTCPAddr("tcp", cfg.Bind); err != nil {
		return nil, errors.New("gateway: invalid bind address: " + cfg.Bind)
	}
	return &Gateway{
		config:  cfg,
		logger:  logger,
		hub:     hub,
		metrics: metrics,
	}, nil
}

// Start begins serving in a background goroutine.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop performs a graceful shutdown with the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
