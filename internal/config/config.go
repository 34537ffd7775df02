// Package config holds the capture configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the capture settings. Environment variables provide the
// defaults; command-line flags override them.
type Config struct {
	// TargetPID restricts capture to one process. 0 captures all processes.
	TargetPID uint32 `env:"ECAPTURE_PID" envDefault:"0"`

	// LibSSL is the libssl shared object to instrument. Empty disables the
	// OpenSSL probes.
	LibSSL string `env:"ECAPTURE_LIBSSL" envDefault:"/lib/x86_64-linux-gnu/libssl.so.1.1"`

	// LibNSPR is the libnspr4 shared object to instrument. Empty disables
	// the NSPR probes.
	LibNSPR string `env:"ECAPTURE_LIBNSPR" envDefault:""`

	// LibC is the libc shared object carrying connect(). Empty disables
	// connection correlation.
	LibC string `env:"ECAPTURE_LIBC" envDefault:"/lib/x86_64-linux-gnu/libc.so.6"`

	// OpenSSLVersion selects the struct-offset layout for fd resolution.
	OpenSSLVersion string `env:"ECAPTURE_OPENSSL_VERSION" envDefault:"1.1.1"`

	// Filter is an optional predicate over captured data events, e.g.
	// `comm == "curl" && direction == "write"`.
	Filter string `env:"ECAPTURE_FILTER" envDefault:""`

	// HexDump prints payload bytes as a hex dump.
	HexDump bool `env:"ECAPTURE_HEXDUMP" envDefault:"false"`

	// OTELEnabled mirrors connection events to an OTLP endpoint.
	OTELEnabled bool `env:"ECAPTURE_OTEL" envDefault:"false"`

	// DataChannelSize bounds the data event channel.
	DataChannelSize int `env:"ECAPTURE_DATA_EVENTS" envDefault:"1024"`

	// ConnChannelSize bounds the connection event channel.
	ConnChannelSize int `env:"ECAPTURE_CONN_EVENTS" envDefault:"256"`

	// RegistryCapacity bounds each direction's pending-call store.
	RegistryCapacity int `env:"ECAPTURE_PENDING_CALLS" envDefault:"1024"`

	// CommCacheSize bounds the process-name cache.
	CommCacheSize int `env:"ECAPTURE_COMM_CACHE" envDefault:"512"`
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants the flag/env layer cannot express.
func (c *Config) Validate() error {
	if c.LibSSL == "" && c.LibNSPR == "" {
		return fmt.Errorf("nothing to instrument: both libssl and libnspr paths are empty")
	}
	if c.DataChannelSize <= 0 || c.ConnChannelSize <= 0 {
		return fmt.Errorf("event channel sizes must be positive (data=%d conn=%d)", c.DataChannelSize, c.ConnChannelSize)
	}
	if c.RegistryCapacity <= 0 {
		return fmt.Errorf("pending-call capacity must be positive, got %d", c.RegistryCapacity)
	}
	if c.CommCacheSize <= 0 {
		return fmt.Errorf("comm cache size must be positive, got %d", c.CommCacheSize)
	}
	return nil
}
