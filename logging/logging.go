// Package logging builds the zap loggers used across the service.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "ECHO_RPC_LOG_LEVEL"
	EnvLogFormat = "ECHO_RPC_LOG_FORMAT"
)

type Config struct {
	Level  string `toml:"level"`  // debug, info, warn, error, off
	Format string `toml:"format"` // console or json
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// New builds a logger from cfg after applying environment overrides.
func New(cfg Config) (*zap.Logger, error) {
	applyEnvOverrides(&cfg)

	level, off, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if off {
		return zap.NewNop(), nil
	}

	var zc zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	return zc.Build()
}

// ParseLevel maps a config string to a zap level. off reports a disabled
// logger.
func ParseLevel(raw string) (level zapcore.Level, off bool, err error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel, false, nil
	case "", "info":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	case "off", "none", "disabled":
		return zapcore.InfoLevel, true, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("logging: unknown level %q", raw)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
}
