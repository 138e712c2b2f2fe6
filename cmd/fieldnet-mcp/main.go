// ABOUTME: Entry point for fieldnet-mcp, an MCP stdio server over the local network store
// ABOUTME: Logs to stderr, heartbeats joined agents and records a final field snapshot on exit

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/logging"
	"github.com/2389/fieldnet-gateway/internal/mcp"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// stdout carries the protocol
	logger := logging.New(cfg.Logging, os.Stderr)

	s, err := network.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	tables, err := network.OpenTables(ctx, cfg.Harmony, logger)
	if err != nil {
		return err
	}

	n := network.New(s, network.Options{
		Config:      cfg.Network,
		Tables:      tables,
		Logger:      logger,
		Fingerprint: session.NewFingerprint("mcp"),
	})
	defer n.Close()

	srv := mcp.NewServer(n, logger)

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go srv.RunHeartbeats(loopCtx)
	go func() {
		if err := n.Run(loopCtx); err != nil {
			logger.Error("field aggregator stopped", "error", err)
		}
	}()

	logger.Info("fieldnet-mcp serving on stdio", "driver", cfg.Database.Driver)
	serveErr := srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	stop()

	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}
	// ctx may already be cancelled by the signal
	if err := n.Flush(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("recording final field snapshot", "error", err)
	}
	return serveErr
}
