// Package config loads process configuration for the submission service:
// transport, backing-store DSNs, and logging. Tier economics (§3 of the
// spec) are compiled-in constants, not config, per the Non-goal that
// forbids dynamic tier reconfiguration at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerSettings controls the HTTP ingress.
type ServerSettings struct {
	ListenAddr      string        `yaml:"listen_addr"`
	RequestDeadline time.Duration `yaml:"request_deadline"`
}

// StorageSettings points at the Durable Store.
type StorageSettings struct {
	DatabaseURL     string `yaml:"database_url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
}

// CacheSettings points at the Fast Cache.
type CacheSettings struct {
	RedisURL string `yaml:"redis_url"`
}

// LoggingSettings controls the zap core.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// QueueSettings carries the one tunable that is not a tier: the downstream
// drain rate used purely for ETA arithmetic (spec §4.D, open question (b)).
type QueueSettings struct {
	DrainRatePerSecond float64 `yaml:"drain_rate_per_second"`
}

// Config is the full process configuration.
type Config struct {
	Server   ServerSettings  `yaml:"server"`
	Storage  StorageSettings `yaml:"storage"`
	Cache    CacheSettings   `yaml:"cache"`
	Logging  LoggingSettings `yaml:"logging"`
	Queue    QueueSettings   `yaml:"queue"`
}

// Default returns a config with sane production defaults for every field
// except the database and Redis URLs, which are left empty and must come
// from the file or the environment; LoadFromFile starts from this and
// overlays the file contents.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			ListenAddr:      ":3000",
			RequestDeadline: 500 * time.Millisecond,
		},
		Storage: StorageSettings{
			MaxOpenConns: 25,
			MaxIdleConns: 10,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueSettings{
			DrainRatePerSecond: 50,
		},
	}
}

// LoadFromFile reads a YAML config file and overlays it onto Default().
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overlays environment-variable overrides onto cfg, enabling
// 12-factor deployments without rebuilding the config file into the image.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REQUEST_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.RequestDeadline = d
		}
	}
}

// Validate returns an error describing the first missing required field, so
// the process fails fast with an actionable message rather than starting in
// a half-configured state.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage.database_url is required")
	}
	if c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required")
	}
	if c.Queue.DrainRatePerSecond <= 0 {
		return fmt.Errorf("queue.drain_rate_per_second must be positive")
	}
	return nil
}
