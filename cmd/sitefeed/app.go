package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pevans/sitefeed/api"
	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/config"
	"github.com/pevans/sitefeed/dates"
	"github.com/pevans/sitefeed/discovery"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/runner"
	"github.com/pevans/sitefeed/sources"
)

// app wires the stores and the runner from a configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	state  *sources.SourceStore
	feeds  *newsfeed.Store
	cache  cache.DateCache
	runner *runner.Runner
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := ensureParentDir(cfg.State.DSN); err != nil {
		return nil, err
	}

	state, err := sources.NewSourceStore(cfg.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	feeds, err := newsfeed.NewStore(cfg.Output.Dir)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("failed to open feed store: %w", err)
	}

	dateCache := openCache(cfg.Cache, logger)

	clock := dates.SystemClock
	fetcher := discovery.NewHTTPFetcher(discovery.FetcherOptions{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Timeout:        cfg.Fetch.Timeout,
		Retry:          cfg.Fetch.Retry,
		Throttle:       discovery.NewHostThrottle(cfg.Fetch.Delay),
		Logger:         logger,
	})
	collector := discovery.NewCollector(discovery.CollectorOptions{
		Normalizer: dates.NewNormalizer(clock),
		Cache:      dateCache,
		Logger:     logger,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		state:  state,
		feeds:  feeds,
		cache:  dateCache,
		runner: runner.New(runner.Options{
			Fetcher:          fetcher,
			Collector:        collector,
			Store:            feeds,
			State:            state,
			Concurrency:      cfg.Runner.Concurrency,
			SourceDeadline:   cfg.Runner.SourceDeadline,
			FailureThreshold: cfg.Runner.FailureThreshold,
			Clock:            clock,
			Logger:           logger,
		}),
	}, nil
}

// openCache returns the configured date cache. An unreachable Redis falls
// back to an in-process cache so a run never depends on it.
func openCache(cfg config.CacheConfig, logger *slog.Logger) cache.DateCache {
	c, err := cache.New(cache.Options{
		Type:     cfg.Type,
		Addr:     cfg.Addr,
		Capacity: cfg.Capacity,
		TTL:      cfg.TTL,
	})
	if err != nil {
		logger.Warn("cache disabled", "error", err)
		return nil
	}

	if rc, ok := c.(*cache.RedisCache); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, using memory cache", "addr", cfg.Addr, "error", err)
			rc.Close()
			return cache.NewMemoryCache(cfg.Capacity, cfg.TTL)
		}
	}
	return c
}

// run executes the given sources, prunes old history and writes the
// report next to the feeds.
func (a *app) run(ctx context.Context, names []string) (*runner.RunReport, error) {
	selected, err := a.cfg.Select(names)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		// A full run defines the set of known sources.
		if err := a.state.SyncSources(ctx, a.cfg.Sources); err != nil {
			a.logger.Warn("failed to sync sources", "error", err)
		}
	}

	report := a.runner.RunAll(ctx, selected)

	if err := report.WriteFile(a.reportPath()); err != nil {
		return report, fmt.Errorf("failed to write report: %w", err)
	}

	retention, err := config.ParseDuration(a.cfg.State.Retention)
	if err == nil && retention > 0 {
		removed, err := a.state.PruneRuns(ctx, time.Now().Add(-retention))
		if err != nil {
			a.logger.Warn("failed to prune run history", "error", err)
		} else if removed > 0 {
			a.logger.Debug("pruned run history", "runs", removed)
		}
	}

	return report, nil
}

func (a *app) reportPath() string {
	return filepath.Join(a.cfg.Output.Dir, api.ReportFile)
}

func (a *app) close() {
	if closer, ok := a.cache.(io.Closer); ok {
		closer.Close()
	}
	a.state.Close()
}

// ensureParentDir creates the directory holding a SQLite file.
func ensureParentDir(dsn string) error {
	if dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}
