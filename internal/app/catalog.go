package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aap-rauf/Quick-Scan/internal/fetch"
	"github.com/aap-rauf/Quick-Scan/internal/storage/postgres"
	"github.com/aap-rauf/Quick-Scan/internal/storage/sqlite"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
	"github.com/aap-rauf/Quick-Scan/internal/watch"
)

// Store is a cache store the process owns.
type Store interface {
	synchronizer.Store
	Clear(ctx context.Context) error
}

// OpenStore opens the configured cache store. A nil Store means caching is
// disabled. The returned function releases the store.
func OpenStore(ctx context.Context, cfg CacheConfig, lg *zap.Logger) (Store, func(), error) {
	switch cfg.Driver {
	case CacheSQLite:
		s, err := sqlite.Open(cfg.Path, sqlite.WithKey(cfg.Key), sqlite.WithLogger(lg.Named("cache")))
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite cache")
		}
		return s, func() {
			if err := s.Close(); err != nil {
				lg.Warn("Close sqlite cache", zap.Error(err))
			}
		}, nil
	case CachePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewCacheStore(pool, cfg.Key, lg.Named("cache")), pool.Close, nil
	case CacheMemory:
		return synchronizer.NewMemoryStore(), func() {}, nil
	case CacheNone:
		return nil, func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// Telemetry carries the providers the catalog components report to. Nil
// providers disable the signal.
type Telemetry struct {
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider
}

// NewSynchronizer wires the fetch pipeline to the configured cache store.
// The returned function closes the synchronizer, waits for background
// fetches and releases the store.
func NewSynchronizer(ctx context.Context, cfg *Config, lg *zap.Logger, tel Telemetry) (*synchronizer.Synchronizer, func(), error) {
	pipelineOpts := []fetch.Option{fetch.WithLogger(lg.Named("fetch"))}
	if tel.Tracer != nil {
		pipelineOpts = append(pipelineOpts, fetch.WithTracerProvider(tel.Tracer))
	}
	pipeline := fetch.New(cfg.Source, pipelineOpts...)

	store, release, err := OpenStore(ctx, cfg.Cache, lg)
	if err != nil {
		return nil, nil, err
	}

	syncOpts := []synchronizer.Option{
		synchronizer.WithTTL(cfg.Cache.TTL),
		synchronizer.WithLogger(lg.Named("sync")),
	}
	if tel.Meter != nil {
		syncOpts = append(syncOpts, synchronizer.WithMeterProvider(tel.Meter))
	}

	s := synchronizer.New(pipeline, store, syncOpts...)
	return s, func() {
		s.Close()
		s.Wait()
		release()
	}, nil
}

// KeepFresh refreshes the catalog until ctx is done: on the staleness
// ticker and, when enabled, whenever a local source file changes.
func KeepFresh(ctx context.Context, cfg *Config, s *synchronizer.Synchronizer, lg *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(ctx, cfg.Refresh.Interval)
	})

	paths := cfg.Source.LocalPaths()
	if cfg.Refresh.WatchFiles && len(paths) > 0 {
		w, err := watch.New(paths, func() { onSourceChange(ctx, s, lg) }, watch.WithLogger(lg.Named("watch")))
		if err != nil {
			lg.Warn("File watching disabled", zap.Error(err))
		} else {
			g.Go(func() error {
				return w.Run(ctx)
			})
		}
	}
	return g.Wait()
}

// onSourceChange refreshes a served catalog in the background, or retries
// in the foreground when nothing could be loaded yet.
func onSourceChange(ctx context.Context, s *synchronizer.Synchronizer, lg *zap.Logger) {
	switch s.Snapshot().State {
	case synchronizer.Failed, synchronizer.Empty:
		st := s.Retry(ctx)
		lg.Info("Source changed, retried load", zap.Stringer("state", st.State))
	default:
		if s.Refresh() {
			lg.Info("Source changed, refreshing")
		}
	}
}
