package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/hanpama/hurdles/internal/logging"
)

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult collects every problem found by Validate.
type ValidationResult struct {
	Errors []ValidationError
}

func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

func (r *ValidationResult) Error() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) add(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		result.add("server.addr", fmt.Sprintf("invalid listen address %q", c.Server.Addr), "use host:port or :port")
	}
	if c.Server.Timeout < 0 {
		result.add("server.timeout", "must not be negative", "")
	}
	if c.Server.MaxBodyBytes <= 0 {
		result.add("server.max_body_bytes", "must be positive", "")
	}

	switch c.Engine.Backend {
	case BackendMemory:
	case BackendRedis:
		if !c.Engine.Cache {
			result.add("engine.backend", "redis backend requires engine.cache", "set engine.cache=true or engine.backend=memory")
		}
		if c.Engine.Redis.Addr == "" {
			result.add("engine.redis.addr", "required for the redis backend", "")
		}
	default:
		result.add("engine.backend", fmt.Sprintf("unknown backend %q", c.Engine.Backend), "memory or redis")
	}
	if c.Engine.Redis.TTL < 0 {
		result.add("engine.redis.ttl", "must not be negative", "")
	}
	if c.Engine.MaxConcurrency < 0 {
		result.add("engine.max_concurrency", "must not be negative", "0 means unbounded")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		result.add("log.level", err.Error(), "debug, info, warn or error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		result.add("log.format", fmt.Sprintf("unknown format %q", c.Log.Format), "text or json")
	}

	if c.Otel.Enabled && c.Otel.Endpoint == "" {
		result.add("otel.endpoint", "required when otel is enabled", "")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		result.add("metrics.path", "must start with /", "")
	}
	return result
}
