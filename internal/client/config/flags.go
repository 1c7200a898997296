package config

import (
	"flag"
	"os"
	"time"

	"github.com/vkuskov/meeseng/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
// It filters os.Args to only the flags it recognizes using flagx.FilterArgs,
// avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-n", "-k", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerAddr, "a", config.ServerAddr, "address and port of the server")
	fs.StringVar(&config.Username, "n", config.Username, "account name")
	fs.StringVar(&config.PubKeyFile, "k", config.PubKeyFile, "public key file")

	requestTimeout := fs.Int("i", int(config.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}
