// ABOUTME: Gateway orchestrator that runs the HTTP API, gRPC health server and field aggregator
// ABOUTME: Manages listeners (TCP or tsnet), background loops and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/fieldnet-gateway/internal/auth"
	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/mcp"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/report"
)

const (
	// healthCheckInterval is how often the gRPC health status re-pings the store.
	healthCheckInterval = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Gateway runs the fieldnet servers around one Network.
type Gateway struct {
	config      *config.Config
	network     *network.Network
	issuer      *auth.Issuer // nil when auth is disabled
	renderer    *report.Renderer
	mcp         *mcp.Server
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// background loops started by Run
	loops sync.WaitGroup
}

// New creates a Gateway. The Gateway takes ownership of n and its store.
func New(cfg *config.Config, n *network.Network, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gw := &Gateway{
		config:   cfg,
		network:  n,
		renderer: report.NewRenderer(),
		mcp:      mcp.NewServer(n, logger),
		logger:   logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		gw.issuer = auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
		logger.Info("HTTP auth enabled")
	} else {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	gw.grpcServer, gw.health = newGRPCServer()

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Run serves until ctx is canceled or a server fails, then shuts down.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	ls, err := g.listen(ctx)
	if err != nil {
		return err
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	g.startLoops(loopCtx)

	errCh := make(chan error, 2)
	go func() {
		g.logger.Info("gRPC server listening", "addr", ls.grpc.Addr().String())
		if err := g.grpcServer.Serve(ls.grpc); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		g.logger.Info("HTTP server listening", "addr", ls.http.Addr().String())
		if err := g.httpServer.Serve(ls.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		g.logger.Error("server error", "error", serveErr)
	}

	stopLoops()
	g.loops.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// startLoops runs the field aggregator, the health watcher and the MCP
// heartbeats until ctx is done.
func (g *Gateway) startLoops(ctx context.Context) {
	loops := []func(context.Context){
		func(ctx context.Context) {
			if err := g.network.Run(ctx); err != nil {
				g.logger.Error("field aggregator stopped", "error", err)
			}
		},
		func(ctx context.Context) { g.watchHealth(ctx, healthCheckInterval) },
		g.mcp.RunHeartbeats,
	}
	g.loops.Add(len(loops))
	for _, loop := range loops {
		go func() {
			defer g.loops.Done()
			loop(ctx)
		}()
	}
}

// Shutdown stops the servers, records pending field events and releases the
// store. Every step runs; their errors are joined.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"HTTP shutdown", func() error { return g.httpServer.Shutdown(ctx) }},
		{"gRPC shutdown", func() error { g.stopGRPC(ctx); return nil }},
		{"tailscale shutdown", g.closeTailnet},
		{"field flush", func() error { return g.network.Flush(ctx) }},
		{"store close", func() error { g.network.Close(); return g.network.Store.Close() }},
	}

	var errs []error
	for _, step := range steps {
		if err := step.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}

// stopGRPC drains in-flight RPCs, force-stopping if ctx expires first.
func (g *Gateway) stopGRPC(ctx context.Context) {
	g.health.Shutdown()
	done := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}
