// Package config loads the per-install ~/.yagodka/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration. Zero values are filled with defaults
// by ApplyDefaults after loading.
type Config struct {
	DefaultUser string `toml:"default_user"`
	GatewayURL  string `toml:"gateway_url"`
	LogLevel    string `toml:"log_level"`

	Heartbeat duration `toml:"heartbeat_interval"`

	Backoff BackoffConfig `toml:"backoff"`
	Outbox  OutboxConfig  `toml:"outbox"`
}

// BackoffConfig tunes gateway reconnection.
type BackoffConfig struct {
	Base       duration `toml:"base"`
	Max        duration `toml:"max"`
	AttemptCap int      `toml:"attempt_cap"`
	Floor      duration `toml:"floor"`
}

// OutboxConfig tunes outbound-queue draining.
type OutboxConfig struct {
	DrainMax int      `toml:"drain_max"`
	RetryMin duration `toml:"retry_min"`
}

// duration lets TOML carry values like "900ms" or "5s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// HeartbeatInterval returns the configured heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration { return time.Duration(c.Heartbeat) }

// BackoffBase returns the base reconnect delay.
func (c *Config) BackoffBase() time.Duration { return time.Duration(c.Backoff.Base) }

// BackoffMax returns the reconnect delay ceiling.
func (c *Config) BackoffMax() time.Duration { return time.Duration(c.Backoff.Max) }

// BackoffFloor returns the minimum delay after a short-lived connection.
func (c *Config) BackoffFloor() time.Duration { return time.Duration(c.Backoff.Floor) }

// OutboxRetryMin returns the per-entry retry floor.
func (c *Config) OutboxRetryMin() time.Duration { return time.Duration(c.Outbox.RetryMin) }

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	if c.GatewayURL == "" {
		c.GatewayURL = "wss://gw.yagodka.im/ws"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = duration(10 * time.Second)
	}
	if c.Backoff.Base == 0 {
		c.Backoff.Base = duration(300 * time.Millisecond)
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = duration(5 * time.Second)
	}
	if c.Backoff.AttemptCap == 0 {
		c.Backoff.AttemptCap = 6
	}
	if c.Backoff.Floor == 0 {
		c.Backoff.Floor = duration(time.Second)
	}
	if c.Outbox.DrainMax == 0 {
		c.Outbox.DrainMax = 12
	}
	if c.Outbox.RetryMin == 0 {
		c.Outbox.RetryMin = duration(900 * time.Millisecond)
	}
}

// Load reads config from path and applies defaults. A missing file is an
// error; callers that treat it as optional check os.IsNotExist.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
