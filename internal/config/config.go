package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Export    ExportConfig
	Sampler   SamplerConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8600"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// ExportConfig holds metric export configuration.
type ExportConfig struct {
	Interval   time.Duration `envconfig:"EXPORT_INTERVAL" default:"5s"`
	BufferSize int           `envconfig:"EXPORT_BUFFER" default:"8"`
	PushURL    string        `envconfig:"PUSH_URL" default:""`
	PushGzip   bool          `envconfig:"PUSH_GZIP" default:"true"`
	PushRate   float64       `envconfig:"PUSH_RATE" default:"0"`
}

// SamplerConfig holds the periodic sampler configuration.
type SamplerConfig struct {
	Interval time.Duration `envconfig:"SAMPLER_INTERVAL" default:"1s"`
}

// RateLimitConfig holds per-IP API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8600",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Export: ExportConfig{
			Interval:   5 * time.Second,
			BufferSize: 8,
			PushGzip:   true,
		},
		Sampler: SamplerConfig{
			Interval: time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
