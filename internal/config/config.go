package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/zmqport/internal/handles"
)

const (
	BackendZMQ    = "zmq"
	BackendMemory = "memory"
)

// Config is the resolved worker configuration.
type Config struct {
	LogLevel    string
	MaxSockets  int
	MetricsAddr string
	Backend     string
	Timeout     time.Duration
	DialRetry   time.Duration
	InboxSize   int
}

type fileConfig struct {
	LogLevel    string `toml:"log_level"`
	MaxSockets  int    `toml:"max_sockets"`
	MetricsAddr string `toml:"metrics_addr"`
	Backend     string `toml:"backend"`
	Timeout     string `toml:"timeout"`
	DialRetry   string `toml:"dial_retry"`
	InboxSize   int    `toml:"inbox_size"`
}

func Default() Config {
	return Config{
		LogLevel:   "info",
		MaxSockets: handles.DefaultCapacity,
		Backend:    BackendZMQ,
		DialRetry:  250 * time.Millisecond,
		InboxSize:  1024,
	}
}

// Load applies the keys present in the TOML file at path over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("max_sockets") {
		cfg.MaxSockets = raw.MaxSockets
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("backend") {
		cfg.Backend = strings.ToLower(strings.TrimSpace(raw.Backend))
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("dial_retry") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialRetry))
		if err != nil {
			return Config{}, fmt.Errorf("parse dial_retry: %w", err)
		}
		cfg.DialRetry = d
	}
	if meta.IsDefined("inbox_size") {
		cfg.InboxSize = raw.InboxSize
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.MaxSockets <= 0 || cfg.MaxSockets > handles.DefaultCapacity {
		return fmt.Errorf("max_sockets must be in [1, %d], got %d", handles.DefaultCapacity, cfg.MaxSockets)
	}
	switch cfg.Backend {
	case BackendZMQ, BackendMemory:
	default:
		return fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if cfg.DialRetry < 0 {
		return fmt.Errorf("dial_retry must not be negative")
	}
	if cfg.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be positive")
	}
	return nil
}
