// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the messaging server.
//
// Fields:
//   - ListenAddr: bind address for the TCP endpoint.
//   - StoreDriver: user store backend, one of "postgres", "sqlite", "memory".
//   - DatabaseDSN: PostgreSQL DSN (pgx) or SQLite file path, per StoreDriver.
//   - HandshakeTimeout: how long a new connection may take to authenticate.
//   - WriteTimeout: per-frame write deadline on client sockets.
//   - MaxFrameBytes: upper bound on a single wire frame.
type Config struct {
	ListenAddr       string
	StoreDriver      string
	DatabaseDSN      string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: The in-memory store loses all users on restart; override for
// anything beyond local experiments.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":7777"
	c.StoreDriver = "memory"
	c.DatabaseDSN = ""
	c.HandshakeTimeout = 15 * time.Second
	c.WriteTimeout = 5 * time.Second
	c.MaxFrameBytes = 16 * 1024
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
