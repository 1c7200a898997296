package config

import (
	"flag"
	"os"
	"time"

	"github.com/vkuskov/meeseng/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   TCP bind address (e.g., ":7777")
//	-s string   store driver: "postgres", "sqlite" or "memory"
//	-d string   database DSN (PostgreSQL URL or SQLite file path)
//	-t int      handshake timeout, seconds
//	-w int      write timeout, seconds
//	-m int      maximum frame size, bytes
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in seconds and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-s", "-d", "-t", "-w", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.StoreDriver, "s", config.StoreDriver, "user store driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	handshakeTimeout := fs.Int("t", int(config.HandshakeTimeout.Seconds()), "handshake timeout (in seconds)")
	writeTimeout := fs.Int("w", int(config.WriteTimeout.Seconds()), "write timeout (in seconds)")

	fs.IntVar(&config.MaxFrameBytes, "m", config.MaxFrameBytes, "maximum frame size (in bytes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.HandshakeTimeout = time.Duration(*handshakeTimeout) * time.Second
	config.WriteTimeout = time.Duration(*writeTimeout) * time.Second
}
