// SPDX-License-Identifier: MIT

// Package config loads and validates daemon configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime configuration of the daemon.
// Values are read from the environment with TBZ_-prefixed variables.
type Config struct {
	ListenAddr        string `env:"TBZ_LISTEN" envDefault:":8080"`
	MetricsListenAddr string `env:"TBZ_METRICS_LISTEN" envDefault:":9090"`

	LogLevel   string `env:"TBZ_LOG_LEVEL" envDefault:"info"`
	LogService string `env:"TBZ_LOG_SERVICE" envDefault:"tablebuzz"`

	// Session cache
	RedisAddr     string        `env:"TBZ_REDIS_ADDR"`
	RedisPassword string        `env:"TBZ_REDIS_PASSWORD,unset"`
	RedisDB       int           `env:"TBZ_REDIS_DB" envDefault:"0"`
	SessionTTL    time.Duration `env:"TBZ_SESSION_TTL" envDefault:"30m"`

	// Transition rules
	RulesDBPath   string        `env:"TBZ_RULES_DB"`
	RulesFilePath string        `env:"TBZ_RULES_FILE"`
	RuleCacheTTL  time.Duration `env:"TBZ_RULE_CACHE_TTL" envDefault:"24h"`

	// Notification hub
	HeartbeatInterval time.Duration `env:"TBZ_HEARTBEAT_INTERVAL" envDefault:"30s"`
	StreamBuffer      int           `env:"TBZ_STREAM_BUFFER" envDefault:"64"`

	// Optional cross-instance relay
	NATSURL string `env:"TBZ_NATS_URL"`

	// Auth
	JWTSecret string `env:"TBZ_JWT_SECRET,unset"`

	// Rate limiting
	RateLimitRPS   int `env:"TBZ_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int `env:"TBZ_RATE_LIMIT_BURST" envDefault:"100"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that the env parser cannot express.
func (c Config) Validate() error {
	if c.SessionTTL <= 0 {
		return fmt.Errorf("TBZ_SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.RuleCacheTTL <= 0 {
		return fmt.Errorf("TBZ_RULE_CACHE_TTL must be positive, got %s", c.RuleCacheTTL)
	}
	if c.HeartbeatInterval < time.Second {
		return fmt.Errorf("TBZ_HEARTBEAT_INTERVAL must be at least 1s, got %s", c.HeartbeatInterval)
	}
	if c.StreamBuffer < 1 {
		return fmt.Errorf("TBZ_STREAM_BUFFER must be at least 1, got %d", c.StreamBuffer)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("TBZ_JWT_SECRET is required")
	}
	if c.RateLimitRPS < 1 || c.RateLimitBurst < c.RateLimitRPS {
		return fmt.Errorf("invalid rate limit configuration: rps=%d burst=%d", c.RateLimitRPS, c.RateLimitBurst)
	}
	return nil
}
