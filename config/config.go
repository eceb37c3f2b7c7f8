// Package config loads echod settings from a TOML file.
//
//	[server]
//	addr = "127.0.0.1:7878"
//	codec = "proto"          # proto | json
//	framing = "raw"          # raw | length-prefixed
//	poll_interval = "100ms"
//
//	[limits]
//	max_connections = 0      # 0 = one goroutine per connection, unbounded
//	rate_limit = 0           # requests per second, 0 = off
//
//	[log]
//	level = "info"
//
//	[metrics]
//	addr = ":9090"           # empty = disabled
//
//	[registry]
//	endpoints = ["127.0.0.1:2379"]   # empty = no registration
//	service = "Echo"
package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"echo-rpc/codec"
	"echo-rpc/logging"
	"echo-rpc/protocol"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Limits   LimitsConfig   `toml:"limits"`
	Log      logging.Config `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Registry RegistryConfig `toml:"registry"`
}

type ServerConfig struct {
	Addr               string        `toml:"addr"`
	Codec              string        `toml:"codec"`
	Framing            string        `toml:"framing"`
	MaxFrameSize       int           `toml:"max_frame_size"`
	PollInterval       time.Duration `toml:"poll_interval"`
	AcceptPollInterval time.Duration `toml:"accept_poll_interval"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout"`
}

type LimitsConfig struct {
	MaxConnections int     `toml:"max_connections"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
	Path string `toml:"path"`
}

type RegistryConfig struct {
	Endpoints     []string      `toml:"endpoints"`
	Service       string        `toml:"service"`
	AdvertiseAddr string        `toml:"advertise_addr"`
	TTL           int64         `toml:"ttl"`
	DialTimeout   time.Duration `toml:"dial_timeout"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:               "127.0.0.1:7878",
			Codec:              "proto",
			Framing:            "raw",
			PollInterval:       100 * time.Millisecond,
			AcceptPollInterval: 10 * time.Millisecond,
			ShutdownTimeout:    5 * time.Second,
		},
		Limits: LimitsConfig{RateBurst: 1},
		Log:    logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Registry: RegistryConfig{
			Service:     "Echo",
			TTL:         10,
			DialTimeout: 3 * time.Second,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error, so typos do
// not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	if _, err := codec.ParseType(c.Server.Codec); err != nil {
		return fmt.Errorf("server.codec: %w", err)
	}
	if _, err := c.Framer(); err != nil {
		return fmt.Errorf("server.framing: %w", err)
	}
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("server.poll_interval must be positive")
	}
	if c.Server.AcceptPollInterval <= 0 {
		return fmt.Errorf("server.accept_poll_interval must be positive")
	}
	if c.Limits.MaxConnections < 0 {
		return fmt.Errorf("limits.max_connections must not be negative")
	}
	if c.Limits.RateLimit < 0 {
		return fmt.Errorf("limits.rate_limit must not be negative")
	}
	if c.Limits.RateLimit > 0 && c.Limits.RateBurst < 1 {
		return fmt.Errorf("limits.rate_burst must be at least 1 when rate_limit is set")
	}
	if len(c.Registry.Endpoints) > 0 {
		if strings.TrimSpace(c.Registry.Service) == "" {
			return fmt.Errorf("registry.service is required with endpoints")
		}
		if c.Registry.TTL <= 0 {
			return fmt.Errorf("registry.ttl must be positive")
		}
	}
	return nil
}

// CodecType returns the configured codec. Call after Validate.
func (c Config) CodecType() codec.Type {
	t, _ := codec.ParseType(c.Server.Codec)
	return t
}

// Framer returns the configured framer for server-side reads.
func (c Config) Framer() (protocol.Framer, error) {
	return protocol.Parse(c.Server.Framing, protocol.ServerBufferSize, c.Server.MaxFrameSize)
}

// AdvertiseAddr is the address written to the registry: the explicit setting,
// or server.addr.
func (c Config) AdvertiseAddr() string {
	if c.Registry.AdvertiseAddr != "" {
		return c.Registry.AdvertiseAddr
	}
	return c.Server.Addr
}
