// ABOUTME: Default config and data locations for the fieldnet binaries
// ABOUTME: FIELDNET_CONFIG and the XDG base directories override the home-relative defaults

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Path returns the config file location.
// Priority: FIELDNET_CONFIG > XDG_CONFIG_HOME/fieldnet/gateway.yaml > ~/.config/fieldnet/gateway.yaml
func Path() string {
	if env := os.Getenv("FIELDNET_CONFIG"); env != "" {
		return env
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fieldnet", "gateway.yaml")
}

// DataDir returns the directory for the database and CLI session state.
// Priority: XDG_DATA_HOME/fieldnet > ~/.local/share/fieldnet
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "fieldnet")
}

// LoadOrDefault loads path, or returns the local defaults when it does not
// exist. Any other read or parse failure is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(filepath.Join(DataDir(), "fieldnet.db")), nil
	}
	return cfg, err
}
