// Package config defines the configuration structures of the mapsync
// service.  No I/O or parsing logic lives here, only plain data types,
// validation and conversion into component options.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/sync/engine"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins restricts CORS and websocket upgrades; empty allows any
	// origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RateLimitRPS is the per-client API request rate; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// WebSocketConfig holds the widget and host connection tunables.
type WebSocketConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// SyncConfig holds the engine timings and comparison tolerances.
type SyncConfig struct {
	Quiescence     time.Duration `mapstructure:"quiescence"`
	Settle         time.Duration `mapstructure:"settle"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	EpsilonDegrees float64       `mapstructure:"epsilon_degrees"`
	EpsilonZoom    float64       `mapstructure:"epsilon_zoom"`
}

// PaneConfig declares a pane created at startup.
type PaneConfig struct {
	ID        string `mapstructure:"id"`
	Provider  string `mapstructure:"provider"`
	Satellite bool   `mapstructure:"satellite"`
}

// ViewportConfig is the canonical viewport before any pane reports.
type ViewportConfig struct {
	Lat  float64 `mapstructure:"lat"`
	Lng  float64 `mapstructure:"lng"`
	Zoom float64 `mapstructure:"zoom"`
}

// RedisConfig holds the optional viewport mirror's connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	StateTTL     time.Duration `mapstructure:"state_ttl"`
	QueueSize    int           `mapstructure:"queue_size"`
}

// KafkaConfig holds the optional sync journal's producer parameters.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	ClientID     string        `mapstructure:"client_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
	Acks         string        `mapstructure:"acks"`
	Compression  string        `mapstructure:"compression"`

	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	TLSCAPath     string `mapstructure:"tls_ca_path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure of the service.
type Config struct {
	Server          ServerConfig      `mapstructure:"server"`
	WebSocket       WebSocketConfig   `mapstructure:"websocket"`
	Log             logging.LogConfig `mapstructure:"log"`
	Metrics         MetricsConfig     `mapstructure:"metrics"`
	Sync            SyncConfig        `mapstructure:"sync"`
	Panes           []PaneConfig      `mapstructure:"panes"`
	InitialViewport ViewportConfig    `mapstructure:"initial_viewport"`
	Redis           RedisConfig       `mapstructure:"redis"`
	Kafka           KafkaConfig       `mapstructure:"kafka"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("config: server rate limit must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst == 0 {
		return fmt.Errorf("config: server.rate_limit_burst is required when rate_limit_rps is set")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Sync.Quiescence < MinQuiescence || c.Sync.Quiescence > MaxQuiescence {
		return fmt.Errorf("config: sync.quiescence %s is out of range [%s, %s]", c.Sync.Quiescence, MinQuiescence, MaxQuiescence)
	}
	if c.Sync.Settle < 0 {
		return fmt.Errorf("config: sync.settle must not be negative, got %s", c.Sync.Settle)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("config: sync.poll_interval must be positive, got %s", c.Sync.PollInterval)
	}
	if c.Sync.EpsilonDegrees < 0 || c.Sync.EpsilonZoom < 0 {
		return fmt.Errorf("config: sync epsilons must not be negative")
	}

	if err := c.InitialViewport.toViewport().Validate(); err != nil {
		return fmt.Errorf("config: initial_viewport: %w", err)
	}

	seen := make(map[string]bool, len(c.Panes))
	for i, p := range c.Panes {
		if _, err := pane.ParseID(p.ID); err != nil {
			return fmt.Errorf("config: panes[%d].id: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: panes[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = true
		if _, err := pane.ParseProviderKind(p.Provider); err != nil {
			return fmt.Errorf("config: panes[%d].provider: %w", i, err)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when the mirror is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required when the journal is enabled")
		}
		switch c.Kafka.SASLMechanism {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("config: kafka.sasl_mechanism %q is not supported", c.Kafka.SASLMechanism)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversions
// ─────────────────────────────────────────────────────────────────────────────

func (v ViewportConfig) toViewport() viewport.Viewport {
	return viewport.Viewport{Lat: v.Lat, Lng: v.Lng, Zoom: v.Zoom}
}

// EngineOptions converts the sync section into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Quiescence:      c.Sync.Quiescence,
		Settle:          c.Sync.Settle,
		PollInterval:    c.Sync.PollInterval,
		Tolerance:       viewport.Tolerance{Degrees: c.Sync.EpsilonDegrees, Zoom: c.Sync.EpsilonZoom},
		InitialViewport: c.InitialViewport.toViewport().Normalized(),
	}
}

// PaneConfigs returns the startup panes keyed by id.  Validate must have
// succeeded.
func (c *Config) PaneConfigs() map[pane.ID]pane.Config {
	out := make(map[pane.ID]pane.Config, len(c.Panes))
	for _, p := range c.Panes {
		kind, _ := pane.ParseProviderKind(p.Provider)
		out[pane.ID(p.ID)] = pane.Config{Provider: kind, Satellite: p.Satellite}
	}
	return out
}
