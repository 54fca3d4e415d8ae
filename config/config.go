// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/pinglue/pg-repo-sub000/core/channel"
)

// validate is the shared validator instance.
var validate = validator.New()

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Exporter  ExporterConfig  `yaml:"exporter"`
	Channels  []ChannelConfig `yaml:"channels" validate:"dive"`
}

// ServerConfig configures the diagnostics HTTP server.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" validate:"required"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path" validate:"startswith=/"`
}

// AnalyticsConfig configures run analytics.
// Use "memory" to keep recent runs in process or "sqlite" to persist them.
type AnalyticsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Driver        string        `yaml:"driver" validate:"oneof=memory sqlite"`
	DSN           string        `yaml:"dsn"`
	MaxEvents     int           `yaml:"max_events" validate:"min=0"` // memory driver only
	BatchSize     int           `yaml:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"min=0"`
	Retention     time.Duration `yaml:"retention" validate:"min=0"`
}

// ExporterConfig configures periodic run summaries.
type ExporterConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule" validate:"required"` // cron expression or @every
	Window   time.Duration `yaml:"window" validate:"min=0"`
	Sinks    []string      `yaml:"sinks" validate:"dive,oneof=log prometheus"`
}

// ChannelConfig declares a channel owned by a controller. Settings are
// inlined, so a declaration reads:
//
//	channels:
//	  - name: orders.created
//	    owner: shop
//	    run_mode: chain
//	    reducer: object-merge
type ChannelConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Owner string `yaml:"owner"`

	Settings channel.SettingsPatch `yaml:",inline"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML, then applies environment
// overrides and defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// LoadWithFallback loads path when it exists and falls back to Default.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies PINGLUE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("PINGLUE_SERVER_ENABLED"); v != "" {
		cfg.Server.Enabled = parseBool(v)
	}
	if v := os.Getenv("PINGLUE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PINGLUE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Logging configuration
	if v := os.Getenv("PINGLUE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PINGLUE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("PINGLUE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("PINGLUE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// Analytics configuration
	if v := os.Getenv("PINGLUE_ANALYTICS_ENABLED"); v != "" {
		cfg.Analytics.Enabled = parseBool(v)
	}
	if v := os.Getenv("PINGLUE_ANALYTICS_DRIVER"); v != "" {
		cfg.Analytics.Driver = v
	}
	if v := os.Getenv("PINGLUE_ANALYTICS_DSN"); v != "" {
		cfg.Analytics.DSN = v
	}
	if v := os.Getenv("PINGLUE_ANALYTICS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analytics.Retention = d
		}
	}

	// Exporter configuration
	if v := os.Getenv("PINGLUE_EXPORTER_ENABLED"); v != "" {
		cfg.Exporter.Enabled = parseBool(v)
	}
	if v := os.Getenv("PINGLUE_EXPORTER_SCHEDULE"); v != "" {
		cfg.Exporter.Schedule = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9470
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Analytics.Driver == "" {
		cfg.Analytics.Driver = "memory"
	}
	if cfg.Analytics.Driver == "sqlite" && cfg.Analytics.DSN == "" {
		cfg.Analytics.DSN = "pinglue.db"
	}
	if cfg.Analytics.BatchSize == 0 {
		cfg.Analytics.BatchSize = 100
	}
	if cfg.Analytics.FlushInterval == 0 {
		cfg.Analytics.FlushInterval = 5 * time.Second
	}

	if cfg.Exporter.Schedule == "" {
		cfg.Exporter.Schedule = "@every 1m"
	}
	if cfg.Exporter.Window == 0 {
		cfg.Exporter.Window = 5 * time.Minute
	}
	if len(cfg.Exporter.Sinks) == 0 {
		cfg.Exporter.Sinks = []string{"log"}
	}
}

// Validate checks struct tags, then the rules that span fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if _, err := cron.ParseStandard(cfg.Exporter.Schedule); err != nil {
		return fmt.Errorf("exporter.schedule: %w", err)
	}
	if cfg.Exporter.Enabled && !cfg.Analytics.Enabled {
		return errors.New("exporter.enabled requires analytics.enabled")
	}

	seen := make(map[string]int, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if prev, dup := seen[ch.Name]; dup {
			return fmt.Errorf("channels[%d]: %q already declared at channels[%d]", i, ch.Name, prev)
		}
		seen[ch.Name] = i
		if err := ch.Settings.Validate(); err != nil {
			return fmt.Errorf("channels[%d] %q: %w", i, ch.Name, err)
		}
	}

	return nil
}
