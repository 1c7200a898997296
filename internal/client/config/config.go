package config

import "time"

// Config holds runtime settings for the chat CLI.
//
// Fields:
//   - ServerAddr: host:port of the messaging server.
//   - Username: account name to log in as; prompted for when empty.
//   - PubKeyFile: optional path to a public key published at login.
//   - RequestTimeout: how long to wait for a server reply to a request.
type Config struct {
	ServerAddr     string
	Username       string
	PubKeyFile     string
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:7777"
	c.Username = ""
	c.PubKeyFile = ""
	c.RequestTimeout = 5 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
