package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/handler"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
	"github.com/aap-rauf/Quick-Scan/pkg/health"
	"github.com/aap-rauf/Quick-Scan/pkg/httpmiddleware"
)

// Run loads the catalog, starts the lookup server and handles graceful
// shutdown. It is the single wiring point for the server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("source", string(cfg.Source.Kind)),
		zap.String("cache", cfg.Cache.Driver),
	)

	syncer, closeSync, err := NewSynchronizer(ctx, cfg, lg, Telemetry{
		Tracer: m.TracerProvider(),
		Meter:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create synchronizer")
	}
	defer closeSync()

	renderer, err := barcode.New(cfg.Barcode)
	if err != nil {
		return errors.Wrap(err, "create barcode renderer")
	}

	healthSvc := newHealth(syncer)
	healthSvc.Start(ctx, 5*time.Second)
	healthSvc.SetReady(true)

	// The server listens while the first fetch runs; the catalog check
	// keeps it out of rotation until a dataset is active.
	bgCtx, stopBg := context.WithCancel(ctx)
	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		st := syncer.Initialize(bgCtx)
		lg.Info("Catalog initialized",
			zap.Stringer("state", st.State),
			zap.Int("items", st.Items),
			zap.Error(st.Err),
		)
		if err := KeepFresh(bgCtx, cfg, syncer, lg); err != nil {
			lg.Error("Background refresh stopped", zap.Error(err))
		}
	}()

	// Every attempt plus slack for the backoff between them.
	fetchBudget := cfg.Source.Timeout * time.Duration(cfg.Source.Retries+2)
	h := handler.New(handler.Config{
		ReloadTimeout: fetchBudget,
		MeterProvider: m.MeterProvider(),
	}, syncer, renderer, lg.Named("http"))
	router := newRouter(ctx, cfg, h, healthSvc)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Reloads block on a foreground fetch.
		WriteTimeout:   fetchBudget + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: otelhttp.NewHandler(router, "quick-scan",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		stopBg()
		<-bgDone
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stopBg()
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRouter mounts the API and probes behind the middleware chain. The
// chain runs inside the router so request logs and metrics carry the
// matched route.
func newRouter(ctx context.Context, cfg *Config, h *handler.Handler, probes handler.Probes) http.Handler {
	return h.Router(probes,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins: cfg.CORS.Origins,
			Headers: []string{"Content-Type", httpmiddleware.RequestIDHeader},
			MaxAge:  86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
}

// newHealth registers the server's probes. Readiness follows the catalog:
// lookups are only answered once a dataset is active.
func newHealth(s *synchronizer.Synchronizer) *health.Health {
	h := health.New()
	h.Add(health.Check{
		Name:             "catalog",
		Probe:            health.Readiness,
		FailureThreshold: 1,
		Func: func(context.Context) error {
			if st := s.Snapshot().State; st != synchronizer.Ready {
				return errors.Errorf("catalog is %s", st)
			}
			return nil
		},
	})
	h.Add(health.Check{
		Name:  "goroutines",
		Probe: health.Liveness,
		Func:  health.GoroutineCountCheck(10000),
	})
	h.Add(health.Check{
		Name:  "gc_pause",
		Probe: health.Liveness,
		Func:  health.GCPauseCheck(time.Second),
	})
	return h
}
