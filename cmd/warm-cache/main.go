// Command warm-cache fetches the configured source once and stores it in
// the configured cache, so a scanner can start offline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/app"
	"github.com/aap-rauf/Quick-Scan/internal/fetch"
)

func main() {
	var clearCache bool
	cfg, err := app.LoadConfig(func(fs *flag.FlagSet) {
		fs.BoolVar(&clearCache, "clear", false, "remove the cached catalog instead of fetching")
	})
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, clearCache); err != nil {
		slog.Error("warm cache failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, clearCache bool) error {
	if cfg.Cache.Driver == app.CacheNone || cfg.Cache.Driver == app.CacheMemory {
		return errors.Errorf("cache driver %q does not persist", cfg.Cache.Driver)
	}

	store, release, err := app.OpenStore(ctx, cfg.Cache, zap.NewNop())
	if err != nil {
		return err
	}
	defer release()

	if clearCache {
		if err := store.Clear(ctx); err != nil {
			return errors.Wrap(err, "clear cache")
		}
		slog.Info("cache cleared", slog.String("driver", cfg.Cache.Driver), slog.String("key", cfg.Cache.Key))
		return nil
	}

	slog.Info("fetching catalog", slog.String("kind", string(cfg.Source.Kind)))
	ds, err := fetch.New(cfg.Source).Fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch catalog")
	}

	if err := store.Write(ctx, ds); err != nil {
		return errors.Wrap(err, "write cache")
	}
	slog.Info("cache warmed",
		slog.String("driver", cfg.Cache.Driver),
		slog.String("key", cfg.Cache.Key),
		slog.Int("items", ds.Len()),
	)
	return nil
}
