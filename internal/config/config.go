// Package config loads the server configuration from defaults, a YAML file,
// HURDLES_* environment variables and command line flags.
package config

import (
	"time"

	"github.com/hanpama/hurdles/internal/logging"
)

// Config is the complete configuration of a hurdles process.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Engine  EngineConfig   `mapstructure:"engine"`
	Log     logging.Config `mapstructure:"log"`
	Otel    OtelConfig     `mapstructure:"otel"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	// Fixtures is an optional YAML file of static handlers.
	Fixtures string `mapstructure:"fixtures"`
	// Demo registers the example handlers.
	Demo bool `mapstructure:"demo"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	Pretty          bool          `mapstructure:"pretty"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type EngineConfig struct {
	Cache bool `mapstructure:"cache"`
	// Backend selects the completed-result store: memory or redis.
	Backend        string      `mapstructure:"backend"`
	Redis          RedisConfig `mapstructure:"redis"`
	MaxConcurrency int         `mapstructure:"max_concurrency"`
}

type RedisConfig struct {
	Addr   string        `mapstructure:"addr"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type OtelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Engine: EngineConfig{
			Cache:   true,
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "hurdles:cache:",
			},
		},
		Log: logging.Config{Level: "info", Format: "text"},
		Otel: OtelConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "hurdles",
		},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}
