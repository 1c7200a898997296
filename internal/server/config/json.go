package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/vkuskov/meeseng/internal/flagx"
	"github.com/vkuskov/meeseng/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "15s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, non-empty fields are copied into the runtime
// Config struct which uses time.Duration.
type JsonConfig struct {
	ListenAddr       string         `json:"listen_addr"`
	StoreDriver      string         `json:"store_driver"`
	DatabaseDSN      string         `json:"database_dsn"`
	HandshakeTimeout timex.Duration `json:"handshake_timeout"`
	WriteTimeout     timex.Duration `json:"write_timeout"`
	MaxFrameBytes    int            `json:"max_frame_bytes"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics. Fields absent from the file keep their
// current (default) values.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.ListenAddr != "" {
		config.ListenAddr = c.ListenAddr
	}
	if c.StoreDriver != "" {
		config.StoreDriver = c.StoreDriver
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.HandshakeTimeout.Duration != 0 {
		config.HandshakeTimeout = time.Duration(c.HandshakeTimeout.Duration)
	}
	if c.WriteTimeout.Duration != 0 {
		config.WriteTimeout = time.Duration(c.WriteTimeout.Duration)
	}
	if c.MaxFrameBytes != 0 {
		config.MaxFrameBytes = c.MaxFrameBytes
	}
}
