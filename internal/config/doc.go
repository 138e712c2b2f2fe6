// Package config loads fieldnet configuration.
//
// A file is YAML unless its name ends in .toml. ${VAR} references are
// expanded before decoding and durations use time.ParseDuration syntax.
// Timing values left empty take the network defaults.
//
// Path resolves the file to read:
//
//  1. FIELDNET_CONFIG
//  2. $XDG_CONFIG_HOME/fieldnet/gateway.yaml
//  3. ~/.config/fieldnet/gateway.yaml
//
// LoadOrDefault falls back to a SQLite database under DataDir when no file
// exists, which is how the CLI and the MCP binary run out of the box.
//
// Example:
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"        # sqlite, sqlite3, postgres
//	  path: "/var/lib/fieldnet/network.db"
//	  dsn: "${FIELDNET_PG_DSN}"
//	  query_timeout: "5s"
//
//	auth:
//	  jwt_secret: "${FIELDNET_JWT_SECRET}"  # empty disables auth
//	  token_ttl: "24h"
//
//	network:
//	  platform: "fieldnet"
//	  online_window: "5m"
//	  recent_window: "2m"
//	  conflict_window: "10m"
//	  message_window: "60m"
//	  poll_interval: "30s"
//	  idempotency_ttl: "10m"
//
//	harmony:
//	  tables_path: "./harmony.yaml"
//	  watch: true
//
//	tailscale:
//	  enabled: false
//	  hostname: "fieldnet"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
