// ABOUTME: Opens the network for one CLI invocation and persists the joined identity between runs
// ABOUTME: Mutating commands flush a field snapshot before the process exits

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/logging"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/session"
)

// sessionFile is where join saves the CLI identity.
const sessionFile = "cli-session.json"

// savedSession lets later invocations act as, and reconnect to, the joined agent.
type savedSession struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Platform  string    `json:"platform"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Nonce     string    `json:"nonce"`
}

func (s *savedSession) fingerprint() session.Fingerprint {
	return session.Fingerprint{Platform: s.Platform, PID: s.PID, StartTime: s.StartTime, Nonce: s.Nonce}
}

func sessionPath() string {
	return filepath.Join(config.DataDir(), sessionFile)
}

// loadSession returns the saved session, or nil when there is none.
func loadSession(path string) (*savedSession, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var s savedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", path, err)
	}
	return &s, nil
}

func saveSession(path string, s *savedSession) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}

// withNetwork opens the store, runs fn and records a field snapshot if fn
// produced any field events.
func withNetwork(fn func(ctx context.Context, n *network.Network) error) error {
	ctx := context.Background()

	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// CLI output owns stdout; only warnings and errors are logged.
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
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
		Fingerprint: session.NewFingerprint("cli"),
	})
	defer n.Close()

	runErr := fn(ctx, n)
	if err := n.Flush(ctx); err != nil {
		logger.Warn("recording field snapshot", "error", err)
	}
	return runErr
}

// agentID resolves who a command acts as.
func agentID() (string, error) {
	if actingAs != "" {
		return actingAs, nil
	}
	saved, err := loadSession(sessionPath())
	if err != nil {
		return "", err
	}
	if saved == nil || saved.AgentID == "" {
		return "", errors.New("not joined: run 'fieldnet join --name NAME' or pass --as AGENT_ID")
	}
	return saved.AgentID, nil
}
