// Package config loads peer configuration from TOML files.
//
// A single file can configure both roles; a process reads the fields
// relevant to the role it plays. Durations are TOML strings in Go syntax
// ("5s", "250ms").
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"tcplink/protocol"
)

// Duration wraps time.Duration for TOML decoding from strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config holds the recognized options for both peer roles.
type Config struct {
	// BindAddr is the host:port the server listens on.
	BindAddr string `toml:"bind_addr"`
	// ConnectAddr is the host:port the client dials.
	ConnectAddr string `toml:"connect_addr"`
	// MaxFrameSize bounds accepted frame bodies in bytes.
	MaxFrameSize uint32 `toml:"max_frame_size"`
	// Timeout applies to connect, send, and receive. Zero disables it.
	Timeout Duration `toml:"timeout"`

	// EtcdEndpoints enables registry-based discovery when non-empty.
	EtcdEndpoints []string `toml:"etcd_endpoints"`
	// Service is the name the server registers under and clients resolve.
	Service string `toml:"service"`

	// RateLimit caps server exchanges per second. Zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	// RateBurst is the token bucket burst for RateLimit.
	RateBurst int `toml:"rate_burst"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		BindAddr:     "127.0.0.1:9000",
		ConnectAddr:  "127.0.0.1:9000",
		MaxFrameSize: protocol.DefaultMaxFrameSize,
		Timeout:      Duration{30 * time.Second},
		RateBurst:    1,
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BindAddr == "" && c.ConnectAddr == "" {
		return errors.New("config: neither bind_addr nor connect_addr set")
	}
	if c.Timeout.Duration < 0 {
		return errors.New("config: negative timeout")
	}
	if c.RateLimit < 0 {
		return errors.New("config: negative rate_limit")
	}
	return nil
}
