package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/internal/config"
	"github.com/aretw0/orchestra/pkg/adapters/diskv"
	"github.com/aretw0/orchestra/pkg/adapters/expression"
	"github.com/aretw0/orchestra/pkg/adapters/memory"
	"github.com/aretw0/orchestra/pkg/adapters/process"
	"github.com/aretw0/orchestra/pkg/adapters/redis"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/observability"
	"github.com/aretw0/orchestra/pkg/persistence/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Runtime is an engine plus the resources built for it.
type Runtime struct {
	Engine   *orchestra.Engine
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	closers  []func() error
}

// Close stops the engine and releases backend connections.
func (r *Runtime) Close(ctx context.Context) error {
	errs := []error{r.Engine.Close(ctx)}
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// BuildEngine wires an engine to the backends named by cfg. extra hooks are
// merged after the metric and log hooks.
func BuildEngine(cfg config.Config, logger *slog.Logger, extra ...domain.LifecycleHooks) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	rt := &Runtime{
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
	}

	opts := []orchestra.Option{
		orchestra.WithLogger(logger),
		orchestra.WithWorkers(cfg.Workers),
		orchestra.WithExpressionProcessors(expression.NewAliasProcessor(cfg.Aliases)),
		orchestra.WithLifecycleHooks(rt.Metrics.Hooks()),
		orchestra.WithLifecycleHooks(observability.LogHooks(logger)),
	}
	for _, h := range extra {
		opts = append(opts, orchestra.WithLifecycleHooks(h))
	}

	mws, err := persistenceMiddleware(cfg.Persistence)
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case config.StoreRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
		client := store.Client()
		opts = append(opts,
			orchestra.WithInstanceStore(middleware.Chain(store, mws...)),
			orchestra.WithStateMachineStore(store),
			orchestra.WithNotifier(redis.NewNotifier(client,
				redis.WithNotifierPrefix(cfg.Redis.Prefix+"notify:"),
				redis.WithNotifierLogger(logger),
			)),
			orchestra.WithLocker(redis.NewLocker(client, cfg.Redis.Prefix), cfg.Lock.TTL),
		)
		rt.closers = append(rt.closers, store.Close)
		logger.Info("Using redis store", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)

	case config.StoreDiskv:
		store := diskv.New(cfg.Diskv.Path)
		opts = append(opts,
			orchestra.WithInstanceStore(middleware.Chain(store, mws...)),
			orchestra.WithStateMachineStore(store),
		)
		logger.Info("Using diskv store", "path", cfg.Diskv.Path)

	default:
		store := memory.NewStore()
		opts = append(opts,
			orchestra.WithInstanceStore(middleware.Chain(store, mws...)),
			orchestra.WithStateMachineStore(store),
		)
		logger.Info("Using in-memory store")
	}

	eng, err := orchestra.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	rt.Engine = eng

	if cfg.Commands != "" {
		cmds, err := process.LoadCommands(cfg.Commands)
		if err != nil {
			return nil, err
		}
		runner := process.NewRunner(process.WithCommands(cmds), process.WithBaseDir(filepath.Dir(cfg.Commands)))
		runner.RegisterTasks(eng.Registry())
		logger.Info("Registered command tasks", "path", cfg.Commands, "commands", runner.Names())
	}
	return rt, nil
}

// persistenceMiddleware builds the store decorators named by cfg. Masking
// runs before encryption.
func persistenceMiddleware(cfg config.PersistenceConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.Mask) > 0 {
		mw, err := middleware.NewPIIMiddleware(cfg.Mask)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return mws, nil
}
