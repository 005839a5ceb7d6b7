// Package config loads and validates duelcore's runtime configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration. Tags follow caarlos0/env
// conventions: env is the variable name, envDefault the fallback value.
type Config struct {
	// Server basics
	Addr               string `env:"WS_ADDR" envDefault:":5004"`
	TokenSigningSecret string `env:"AUTH_SECRET,required"`

	// Capacity
	MaxConnections      int  `env:"WS_MAX_CONNECTIONS" envDefault:"500"`
	MaxGoroutines       int  `env:"WS_MAX_GOROUTINES" envDefault:"4000"`
	AutoSizeConnections bool `env:"WS_AUTO_SIZE_CONNECTIONS" envDefault:"false"`

	// Driver cadence
	MatchTickInterval     time.Duration `env:"MATCH_TICK_INTERVAL" envDefault:"1s"`
	BattleTickInterval    time.Duration `env:"BATTLE_TICK_INTERVAL" envDefault:"1s"`
	ChallengeReapInterval time.Duration `env:"CHALLENGE_REAP_INTERVAL" envDefault:"5s"`
	ChallengeTTL          time.Duration `env:"CHALLENGE_TTL" envDefault:"60s"`
	BattleGracePeriod     time.Duration `env:"BATTLE_GRACE_PERIOD" envDefault:"30s"`

	// Trust boundary: tower damage is client-reported and must be clamped.
	MaxDamagePerSecond float64 `env:"WS_MAX_DAMAGE_PER_SEC" envDefault:"8000"`

	// CPU safety thresholds (container-aware; see internal/limits.ResourceGuard)
	CPURejectThreshold float64 `env:"WS_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"WS_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`
	MetricsInterval    time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// NATS backplane (cross-instance channel fan-out)
	NATSUrl     string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSEnabled bool   `env:"NATS_ENABLED" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the
// environment. Priority: real env vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.TokenSigningSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("WS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("WS_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("WS_CPU_PAUSE_THRESHOLD (%.1f) must be >= WS_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got %s)", c.LogFormat)
	}

	return nil
}

// LogConfig emits the loaded configuration via structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Dur("match_tick_interval", c.MatchTickInterval).
		Dur("battle_tick_interval", c.BattleTickInterval).
		Dur("battle_grace_period", c.BattleGracePeriod).
		Float64("max_damage_per_sec", c.MaxDamagePerSecond).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Bool("nats_enabled", c.NATSEnabled).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
