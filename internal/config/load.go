package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables: HURDLES_ENGINE_MAX_CONCURRENCY.
const EnvPrefix = "HURDLES"

// ConfigFlag names the flag holding an explicit config file path.
const ConfigFlag = "config"

// DefineFlags adds one flag per configuration key to fs, named by the
// canonical dotted key.
func DefineFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(ConfigFlag, "", "Path to a YAML config file")

	fs.String("server.addr", d.Server.Addr, "HTTP listen address")
	fs.Duration("server.timeout", d.Server.Timeout, "Per-query timeout")
	fs.Duration("server.shutdown_timeout", d.Server.ShutdownTimeout, "Graceful shutdown timeout")
	fs.Int64("server.max_body_bytes", d.Server.MaxBodyBytes, "Maximum request body size")
	fs.Bool("server.pretty", d.Server.Pretty, "Indent JSON responses")
	fs.StringSlice("server.cors_origins", nil, "Allowed CORS origins (comma-separated or repeated)")

	fs.Bool("engine.cache", d.Engine.Cache, "Cache and deduplicate handler invocations")
	fs.String("engine.backend", d.Engine.Backend, "Completed-result store: memory or redis")
	fs.String("engine.redis.addr", d.Engine.Redis.Addr, "Redis address for the redis backend")
	fs.String("engine.redis.prefix", d.Engine.Redis.Prefix, "Redis key prefix")
	fs.Duration("engine.redis.ttl", d.Engine.Redis.TTL, "Redis entry TTL (0 keeps entries)")
	fs.Int("engine.max_concurrency", d.Engine.MaxConcurrency, "Maximum concurrent handler calls (0 = unbounded)")

	fs.String("log.level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.String("log.format", d.Log.Format, "Log format: text or json")

	fs.Bool("otel.enabled", d.Otel.Enabled, "Export traces over OTLP/gRPC")
	fs.String("otel.endpoint", d.Otel.Endpoint, "OTLP/gRPC collector endpoint")
	fs.String("otel.service_name", d.Otel.ServiceName, "Service name reported in traces")

	fs.Bool("metrics.enabled", d.Metrics.Enabled, "Serve Prometheus metrics")
	fs.String("metrics.path", d.Metrics.Path, "Metrics endpoint path")

	fs.String("fixtures", "", "YAML file of static handlers")
	fs.Bool("demo", false, "Register the example handlers")
}

// Load builds the configuration with the following precedence:
//  1. flags explicitly set on fs
//  2. environment variables
//  3. config file (--config, or hurdles.yaml in . or /etc/hurdles)
//  4. defaults
//
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var cfgPath string
	if fs != nil && fs.Lookup(ConfigFlag) != nil {
		cfgPath, _ = fs.GetString(ConfigFlag)
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("hurdles")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hurdles/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlags(v, fs)
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.pretty", d.Server.Pretty)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("engine.cache", d.Engine.Cache)
	v.SetDefault("engine.backend", d.Engine.Backend)
	v.SetDefault("engine.redis.addr", d.Engine.Redis.Addr)
	v.SetDefault("engine.redis.prefix", d.Engine.Redis.Prefix)
	v.SetDefault("engine.redis.ttl", d.Engine.Redis.TTL)
	v.SetDefault("engine.max_concurrency", d.Engine.MaxConcurrency)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("otel.enabled", d.Otel.Enabled)
	v.SetDefault("otel.endpoint", d.Otel.Endpoint)
	v.SetDefault("otel.service_name", d.Otel.ServiceName)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("fixtures", d.Fixtures)
	v.SetDefault("demo", d.Demo)
}

// bindChangedFlags copies only explicitly-set flags into v, so unset flags
// never shadow env or file values.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == ConfigFlag || !v.IsSet(f.Name) {
			return
		}
		switch f.Value.Type() {
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "int64":
			val, _ := fs.GetInt64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}
