package cmd

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/farm-stack/farm/config"
	"github.com/farm-stack/farm/internal/cache"
	"github.com/farm-stack/farm/internal/extractor"
	"github.com/farm-stack/farm/internal/progress"
	"github.com/farm-stack/farm/internal/typegen"
	"github.com/farm-stack/farm/internal/typesync"
)

// loadProject reads farm.yaml and applies flag and FARM_* environment overrides.
func (a *app) loadProject() (*config.ProjectConfig, error) {
	opts := config.DefaultLoadOptions()
	opts.Path = a.v.GetString("config")
	opts.Quiet = a.v.GetBool("quiet") || a.v.GetBool("json")

	cfg, err := config.NewConfigManager(opts).LoadConfig()
	if err != nil {
		return nil, err
	}

	overridden := false
	if u := a.v.GetString("backend-url"); u != "" {
		cfg.Backend.URL = u
		overridden = true
	}
	if dir := a.v.GetString("output-dir"); dir != "" {
		cfg.Types.OutputDir = dir
		overridden = true
	}
	if b := a.v.GetString("cache-backend"); b != "" {
		cfg.Cache.Backend = b
		overridden = true
	}
	if overridden {
		if errs := config.Validate(cfg); errs.HasErrors() {
			return nil, errors.WithHint(errs, "check the --backend-url, --output-dir and --cache-backend values")
		}
	}
	return cfg, nil
}

// openCache connects the configured store. An unreachable store degrades to an
// in-memory one so that a broken cache never blocks generation.
func (a *app) openCache(ctx context.Context, cfg *config.ProjectConfig) *cache.Cache {
	store, err := cache.OpenStore(ctx, cacheConfig(cfg))
	if err != nil {
		a.logger.Warnw("Cache store unavailable, using in-memory cache", "backend", cfg.Cache.Backend, "error", err)
		store = cache.NewMemoryStore()
	}
	c, err := cache.New(store, cache.WithLogger(a.logger), cache.WithMemoryEntries(cfg.Cache.MemoryEntries))
	if err != nil {
		a.logger.Warnw("Cache front unavailable", "error", err)
		c, _ = cache.New(store, cache.WithLogger(a.logger))
	}
	return c
}

func (a *app) reporter() progress.Reporter {
	switch {
	case a.v.GetBool("json"):
		return progress.NewJSONReporter(a.stdout)
	case a.v.GetBool("quiet"):
		return progress.Nop{}
	default:
		return progress.NewCLIReporter(a.v.GetBool("debug"))
	}
}

// newOrchestrator builds and initialises an orchestrator for cfg.
func (a *app) newOrchestrator(ctx context.Context, cfg *config.ProjectConfig, opts ...typesync.Option) (*typesync.Orchestrator, error) {
	base := []typesync.Option{
		typesync.WithCache(a.openCache(ctx, cfg)),
		typesync.WithReporter(a.reporter()),
		typesync.WithLogger(a.logger),
	}
	o := typesync.New(append(base, opts...)...)
	if err := o.Initialize(syncConfig(cfg)); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func cacheConfig(cfg *config.ProjectConfig) cache.Config {
	return cache.Config{
		Backend:       cfg.Cache.Backend,
		Dir:           cfg.Cache.Dir,
		MemoryEntries: cfg.Cache.MemoryEntries,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		},
		PostgresDSN:   cfg.Cache.Postgres.DSN,
		PostgresTable: cfg.Cache.Postgres.Table,
	}
}

func syncConfig(cfg *config.ProjectConfig) typesync.Config {
	return typesync.Config{
		Extractor: extractorConfig(cfg.Backend),
		OutputDir: cfg.Types.OutputDir,
		Features:  features(cfg.Types.Features),
		APIPrefix: cfg.Types.APIPrefix,
	}
}

func features(f *config.FeaturesConfig) typegen.Features {
	if f == nil {
		return typegen.Features{}
	}
	return typegen.Features{
		Client:    f.Client,
		Hooks:     f.Hooks,
		Streaming: f.Streaming,
		AI:        f.AI,
	}
}

func extractorConfig(b config.BackendConfig) extractor.Config {
	return extractor.Config{
		URL:            b.URL,
		SchemaPath:     b.SchemaPath,
		FetchTimeout:   b.FetchTimeout,
		StartupTimeout: b.StartupTimeout,
		PollInterval:   b.PollInterval,
		KillTimeout:    b.KillTimeout,
		Launch: extractor.LaunchConfig{
			Command: b.LaunchCmd,
			Dir:     b.LaunchDir,
			Env:     b.Env,
			UsePTY:  b.UsePTY,
		},
	}
}
