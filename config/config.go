package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds all server configuration. Read-only after New returns.
type Config struct {
	// Port is the TCP port to bind on all interfaces.
	Port int

	// EnableLinger enables a 1-second linger on the listening socket.
	EnableLinger bool

	// ThreadAffinity pins worker i to CPU i.
	ThreadAffinity bool

	// KeepAliveTimeout is the idle window, in seconds, before a
	// keep-alive connection is closed.
	KeepAliveTimeout int
}

// Default returns the configuration defaults without touching flags.
func Default() *Config {
	return &Config{
		Port:             8080,
		KeepAliveTimeout: 15,
	}
}

// New loads configuration from flags, with PORT overriding from the
// environment.
func New() *Config {
	cfg := Default()

	flag.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to bind")
	flag.BoolVar(&cfg.EnableLinger, "enable-linger", false, "enable 1s linger on the listening socket")
	flag.BoolVar(&cfg.ThreadAffinity, "thread-affinity", false, "pin worker i to CPU i")
	flag.IntVar(&cfg.KeepAliveTimeout, "keep-alive-timeout", cfg.KeepAliveTimeout, "keep-alive idle timeout (seconds)")

	flag.Parse()

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}

	return cfg
}
