// Package handler serves catalog lookups over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/query"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
	"github.com/aap-rauf/Quick-Scan/pkg/httpmiddleware"
)

// Catalog is the part of the synchronizer the handlers drive.
type Catalog interface {
	Snapshot() synchronizer.Snapshot
	Status() synchronizer.Status
	Reload(ctx context.Context) synchronizer.Status
	Retry(ctx context.Context) synchronizer.Status
	Subscribe() (<-chan synchronizer.Status, func())
}

// Probes serves the health endpoints.
type Probes interface {
	LiveEndpoint(w http.ResponseWriter, r *http.Request)
	ReadyEndpoint(w http.ResponseWriter, r *http.Request)
}

// Config holds non-dependency settings for the Handler.
type Config struct {
	// ReloadTimeout bounds fetches started by reload and retry requests.
	// Zero leaves them to the fetch pipeline's own limits.
	ReloadTimeout time.Duration
	// PingInterval is how often idle event streams are pinged.
	PingInterval time.Duration
	// MeterProvider records lookup outcomes. Nil disables metrics.
	MeterProvider metric.MeterProvider
}

// Handler serves the /api routes.
type Handler struct {
	catalog  Catalog
	engine   *query.Engine
	renderer *barcode.Renderer
	lg       *zap.Logger
	lookups  metric.Int64Counter

	reloadTimeout time.Duration
	pingInterval  time.Duration
}

// New constructs a Handler. A nil renderer disables barcode images.
func New(cfg Config, c Catalog, renderer *barcode.Renderer, lg *zap.Logger) *Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = noop.NewMeterProvider()
	}
	lookups, err := cfg.MeterProvider.
		Meter("github.com/aap-rauf/Quick-Scan/internal/handler").
		Int64Counter("quickscan.lookup.count", metric.WithDescription("Lookups by outcome"))
	if err != nil {
		lg.Warn("Lookup counter unavailable", zap.Error(err))
		lookups, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	return &Handler{
		catalog:       c,
		engine:        query.New(c),
		renderer:      renderer,
		lg:            lg,
		lookups:       lookups,
		reloadTimeout: cfg.ReloadTimeout,
		pingInterval:  cfg.PingInterval,
	}
}

// Router builds the route tree. mws run inside the router, in order, so
// they see the matched route pattern.
func (h *Handler) Router(probes Probes, mws ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	for _, mw := range mws {
		r.Use(mw)
	}

	if probes != nil {
		r.Get("/livez", probes.LiveEndpoint)
		r.Get("/readyz", probes.ReadyEndpoint)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/lookup", h.Lookup)
		r.Get("/status", h.Status)
		r.Post("/reload", h.Reload)
		r.Post("/retry", h.Retry)
		r.Get("/rows", h.Rows)
		r.Get("/barcode/{code}", h.Barcode)
		r.Get("/events", h.Events)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
