package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hurdles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  timeout: 5s
engine:
  backend: redis
  max_concurrency: 4
  redis:
    ttl: 1m
log:
  level: debug
`)
	t.Setenv("HURDLES_ENGINE_MAX_CONCURRENCY", "8")
	t.Setenv("HURDLES_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	fs := newFlags(t, "--config", path, "--server.addr", ":7000")
	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr, "flag beats file")
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout, "file beats default")
	assert.Equal(t, 8, cfg.Engine.MaxConcurrency, "env beats file")
	assert.Equal(t, BackendRedis, cfg.Engine.Backend)
	assert.Equal(t, time.Minute, cfg.Engine.Redis.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_UnsetFlagsDoNotShadowEnv(t *testing.T) {
	t.Setenv("HURDLES_ENGINE_CACHE", "false")
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.False(t, cfg.Engine.Cache)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.Error(t, err)
	})
	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, "engine:\n  cahce: true\n")
		_, err := Load(newFlags(t, "--config", path))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad addr", func(c *Config) { c.Server.Addr = "localhost" }, "server.addr"},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "server.max_body_bytes"},
		{"unknown backend", func(c *Config) { c.Engine.Backend = "disk" }, "engine.backend"},
		{"redis without cache", func(c *Config) { c.Engine.Backend = BackendRedis; c.Engine.Cache = false }, "engine.backend"},
		{"redis without addr", func(c *Config) { c.Engine.Backend = BackendRedis; c.Engine.Redis.Addr = "" }, "engine.redis.addr"},
		{"negative concurrency", func(c *Config) { c.Engine.MaxConcurrency = -1 }, "engine.max_concurrency"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"otel endpoint", func(c *Config) { c.Otel.Enabled = true; c.Otel.Endpoint = "" }, "otel.endpoint"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tt.field)
		})
	}
}
