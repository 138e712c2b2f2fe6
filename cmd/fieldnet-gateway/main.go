// ABOUTME: Entry point for fieldnet-gateway, the presence network server
// ABOUTME: Serves the HTTP API, MCP over HTTP and gRPC health; also writes configs and mints tokens

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/fieldnet-gateway/internal/auth"
	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/gateway"
	"github.com/2389/fieldnet-gateway/internal/logging"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/session"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __ _      _     _            _
  / _(_) ___| | __| |_ __   ___| |_
 | |_| |/ _ \ |/ _' | '_ \ / _ \ __|
 |  _| |  __/ | (_| | | | |  __/ |_
 |_| |_|\___|_|\__,_|_| |_|\___|\__|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: fieldnet-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the gateway server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  token --agent ID       Mint an agent token")
		fmt.Println("  token --admin NAME     Mint an admin token")
		fmt.Println("  health                 Check gateway health over gRPC")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.Path()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled: set auth.jwt_secret to require tokens")
	}
	fmt.Println()

	s, err := network.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	tables, err := network.OpenTables(ctx, cfg.Harmony, logger)
	if err != nil {
		_ = s.Close()
		return err
	}

	n := network.New(s, network.Options{
		Config:      cfg.Network,
		Tables:      tables,
		Logger:      logger,
		Fingerprint: session.NewFingerprint(cfg.Network.Platform),
	})

	logger.Info("starting fieldnet-gateway",
		"config", configPath,
		"driver", cfg.Database.Driver,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, n, logger)
	if err != nil {
		n.Close()
		_ = s.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id to mint a token for")
	admin := fs.String("admin", "", "subject name for an admin token")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*agentID == "") == (*admin == "") {
		return fmt.Errorf("exactly one of --agent or --admin is required")
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured; tokens are not needed")
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), lifetime)

	var token string
	if *admin != "" {
		token, err = issuer.AdminToken(*admin, lifetime)
	} else {
		token, err = issuer.AgentToken(*agentID)
	}
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Server.GRPCAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.NetworkService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}

	color.New(color.FgGreen).Println("healthy")
	return nil
}
