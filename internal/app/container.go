package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/doeshing/cadsmith/internal/application/doctor"
	"github.com/doeshing/cadsmith/internal/application/executor"
	"github.com/doeshing/cadsmith/internal/application/generate"
	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/infrastructure/ai"
	"github.com/doeshing/cadsmith/internal/infrastructure/cache"
	"github.com/doeshing/cadsmith/internal/infrastructure/config"
	"github.com/doeshing/cadsmith/internal/infrastructure/geometry/cadquery"
	"github.com/doeshing/cadsmith/internal/infrastructure/geometry/csg"
	"github.com/doeshing/cadsmith/internal/infrastructure/history"
	"github.com/doeshing/cadsmith/internal/infrastructure/metrics"
	"github.com/doeshing/cadsmith/internal/pkg/logger"
	"github.com/doeshing/cadsmith/internal/ports"
)

// Options controls BuildContainer.
type Options struct {
	ConfigPath string
	Verbose    bool
	// LogOutput replaces stderr for the text log handler.
	LogOutput io.Writer
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config          domain.Config
	ConfigProvider  ports.ConfigProvider
	ConfigLoader    *config.FileLoader
	Logger          *logger.SlogLogger
	Metrics         *metrics.Prometheus
	Kernel          ports.Kernel
	Executor        *executor.Executor
	GenerateService *generate.Service
	DoctorService   *doctor.Service
	HistoryStore    ports.HistoryRepository
	CacheStore      ports.CacheRepository

	closers []io.Closer
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Verbose: opts.Verbose,
		Stderr:  opts.LogOutput,
		File:    cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	c := &Container{
		Config:         cfg,
		ConfigProvider: cfgLoader,
		ConfigLoader:   cfgLoader,
		Logger:         log,
		Metrics:        metrics.New(),
		closers:        []io.Closer{log},
	}

	c.Kernel, err = newKernel(cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Executor = executor.New(c.Kernel, log, c.Metrics)

	if cfg.Cache.Enabled {
		c.CacheStore = c.newCache(cfg)
	}
	if cfg.History.Enabled {
		c.HistoryStore = c.newHistory(ctx, cfg)
	}

	c.GenerateService = &generate.Service{
		ConfigProvider:   cfgLoader,
		GeneratorFactory: ai.NewFactory(nil, nil),
		Executor:         c.Executor,
		Cache:            c.CacheStore,
		History:          c.HistoryStore,
		Metrics:          c.Metrics,
		Logger:           log,
	}

	c.DoctorService = &doctor.Service{
		ConfigProvider: cfgLoader,
		Kernel:         c.Kernel,
		Cache:          c.CacheStore,
		History:        c.HistoryStore,
	}
	return c, nil
}

// Close releases database handles, the redis client and the log file.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func newKernel(cfg domain.Config) (ports.Kernel, error) {
	switch strings.ToLower(cfg.KernelName()) {
	case domain.KernelCSG:
		return csg.New(), nil
	case domain.KernelCadQuery:
		return cadquery.New(cfg.Geometry.Python), nil
	default:
		return nil, fmt.Errorf("unknown geometry kernel %q", cfg.Geometry.Kernel)
	}
}

func (c *Container) newCache(cfg domain.Config) ports.CacheRepository {
	switch cfg.Cache.Backend {
	case domain.BackendRedis:
		rc := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisDB, cfg.CacheMaxEntries(), cfg.CacheTTL())
		c.closers = append(c.closers, rc)
		return rc
	default:
		dir := filepath.Join(config.HomeDir(), "cache", "programs")
		return cache.NewFileCache(dir, cfg.CacheMaxEntries(), cfg.CacheTTL())
	}
}

// newHistory falls back to the jsonl store when sqlite cannot be opened.
func (c *Container) newHistory(ctx context.Context, cfg domain.Config) ports.HistoryRepository {
	dir := filepath.Join(config.HomeDir(), "history")
	var store ports.HistoryRepository
	if cfg.History.Backend != domain.BackendJSONL {
		sqlite, err := history.NewSQLiteStore(filepath.Join(dir, "history.db"))
		if err == nil {
			c.closers = append(c.closers, sqlite)
			store = sqlite
		} else {
			c.Logger.Warn("sqlite history unavailable, using jsonl", map[string]interface{}{"error": err.Error()})
		}
	}
	if store == nil {
		store = history.NewFileStore(filepath.Join(dir, "history.jsonl"))
	}
	if err := store.PruneOlderThan(ctx, cfg.HistoryRetentionDays()); err != nil {
		c.Logger.Warn("history prune failed", map[string]interface{}{"error": err.Error()})
	}
	return store
}
