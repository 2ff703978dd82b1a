package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hanpama/hurdles/internal/cache/redis"
	"github.com/hanpama/hurdles/internal/config"
	"github.com/hanpama/hurdles/internal/demo"
	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
	"github.com/hanpama/hurdles/internal/executor"
	"github.com/hanpama/hurdles/internal/fixtures"
	"github.com/hanpama/hurdles/internal/logging"
	"github.com/hanpama/hurdles/internal/metrics"
	"github.com/hanpama/hurdles/internal/otel"
)

// components is what a command needs to resolve queries. Close releases
// them in reverse order of creation.
type components struct {
	log     *slog.Logger
	bus     *eventbus.Bus
	engine  *executor.Engine
	metrics *metrics.Collector

	closers []func(context.Context) error
}

func (c *components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// loadConfig reads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if res := cfg.Validate(); res.HasErrors() {
		return nil, res
	}
	return cfg, nil
}

// build wires the engine described by cfg. Logs go to logOut.
func build(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *components, err error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	c := &components{
		log: logging.NewWriter(cfg.Log, logOut),
		bus: eventbus.New(),
	}
	defer func() {
		if err != nil {
			_ = c.Close(ctx)
		}
	}()
	c.closers = append(c.closers, detach(logFailures(c.bus, c.log)))

	if cfg.Otel.Enabled {
		shutdown, err := otel.Setup(ctx, c.bus, cfg.Otel.Endpoint, cfg.Otel.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("otel setup: %w", err)
		}
		c.closers = append(c.closers, shutdown)
	}
	if cfg.Metrics.Enabled {
		c.metrics = metrics.New()
		c.closers = append(c.closers, detach(c.metrics.Attach(c.bus)))
	}

	opts := []executor.Option{
		executor.WithCache(cfg.Engine.Cache),
		executor.WithEventBus(c.bus),
		executor.WithLogger(c.log),
		executor.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
	}
	if cfg.Engine.Cache && cfg.Engine.Backend == config.BackendRedis {
		store, err := redis.Dial(ctx, cfg.Engine.Redis.Addr,
			redis.WithPrefix(cfg.Engine.Redis.Prefix),
			redis.WithTTL(cfg.Engine.Redis.TTL))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return store.Close() })
		opts = append(opts, executor.WithStore(store))
	}
	c.engine = executor.New(registry, opts...)

	c.log.Debug("engine ready",
		"cache", cfg.Engine.Cache,
		"backend", cfg.Engine.Backend,
		"max_concurrency", cfg.Engine.MaxConcurrency,
		"demo", cfg.Demo,
		"fixtures", cfg.Fixtures)
	return c, nil
}

// buildRegistry registers fixtures ahead of the demo handlers, so a
// fixture can replace a demo operation.
func buildRegistry(cfg *config.Config) (executor.Registry, error) {
	var regs executor.Registries
	if cfg.Fixtures != "" {
		h, err := fixtures.Load(cfg.Fixtures)
		if err != nil {
			return nil, err
		}
		regs = append(regs, h)
	}
	if cfg.Demo {
		regs = append(regs, demo.Handlers())
	}
	if len(regs) == 0 {
		return nil, errors.New("no handlers registered: use --demo or --fixtures")
	}
	return regs, nil
}

func logFailures(bus *eventbus.Bus, log *slog.Logger) func() {
	return eventbus.Subscribe(bus, func(ctx context.Context, e events.HandlerFinish) {
		if e.Err != nil {
			log.WarnContext(ctx, "handler failed",
				"operation", e.Operation, "path", e.Path, "error", e.Err)
		}
	})
}

func detach(unsubscribe func()) func(context.Context) error {
	return func(context.Context) error {
		unsubscribe()
		return nil
	}
}

// readQuery decodes the query definition in the file named by args, or in
// stdin when there is none or it is "-".
func readQuery(cmd *cobra.Command, args []string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	var def map[string]any
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	if def == nil {
		return nil, errors.New("decode query: query must be a JSON object")
	}
	return def, nil
}
