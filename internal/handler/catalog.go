package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
	"github.com/aap-rauf/Quick-Scan/internal/query"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
	"github.com/aap-rauf/Quick-Scan/pkg/httpmiddleware"
)

// Lookup serves GET /api/lookup?q=.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	res := h.engine.Query(r.URL.Query().Get("q"))
	h.lookups.Add(r.Context(), 1, metric.WithAttributes(attribute.String("status", res.Kind.String())))

	status := http.StatusOK
	if res.Kind == query.NotReady || res.Kind == query.Failed {
		status = http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(res.Kind.String()) })
		if res.Query != "" {
			e.Field("query", func(e *jx.Encoder) { e.Str(res.Query) })
		}
		if res.Kind == query.Found {
			e.Field("item", func(e *jx.Encoder) { h.encodeItem(e, res.Item) })
		}
		if res.Err != nil {
			e.Field("error", func(e *jx.Encoder) { e.Str(res.Err.Error()) })
		}
	})
	writeJSON(w, status, e.Bytes())
}

func (h *Handler) encodeItem(e *jx.Encoder, it catalog.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("barcodes", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, b := range it.Barcodes {
					e.Str(b)
				}
			})
		})
		e.Field("primaryBarcode", func(e *jx.Encoder) { e.Str(it.PrimaryBarcode) })
		e.Field("category", func(e *jx.Encoder) { e.Str(it.Category) })
		if h.renderer != nil {
			if u := h.renderer.URL(it.PrimaryBarcode); u != "" {
				e.Field("barcodeImage", func(e *jx.Encoder) { e.Str(u) })
			}
		}
	})
}

// Status serves GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, encodeStatus(h.catalog.Status()))
}

// Reload serves POST /api/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "reload", h.catalog.Reload)
}

// Retry serves POST /api/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "retry", h.catalog.Retry)
}

// trigger runs a foreground fetch detached from the request, so a client
// hanging up does not fail the catalog.
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) synchronizer.Status) {
	ctx := context.WithoutCancel(r.Context())
	if h.reloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.reloadTimeout)
		defer cancel()
	}

	st := fn(ctx)
	zctx.From(r.Context()).Info("Catalog fetch requested",
		zap.String("op", op),
		zap.Stringer("state", st.State),
		zap.Int("items", st.Items),
	)
	writeJSON(w, http.StatusOK, encodeStatus(st))
}

// Rows serves GET /api/rows: the active dataset as a bare row array, the
// format the api source kind reads.
func (h *Handler) Rows(w http.ResponseWriter, _ *http.Request) {
	snap := h.catalog.Snapshot()
	if snap.State != synchronizer.Ready || snap.Dataset == nil {
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "catalog is "+snap.State.String())
		return
	}

	var e jx.Encoder
	catalog.EncodeRows(&e, snap.Dataset.All())
	w.Header().Set("Last-Modified", snap.Dataset.FetchedAt().UTC().Format(http.TimeFormat))
	writeJSON(w, http.StatusOK, e.Bytes())
}

// Barcode serves GET /api/barcode/{code} by redirecting to the image
// renderer.
func (h *Handler) Barcode(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		httpmiddleware.WriteError(w, http.StatusNotFound, "barcode rendering is disabled")
		return
	}
	u := h.renderer.URL(chi.URLParam(r, "code"))
	if u == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "barcode is empty")
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func encodeStatus(st synchronizer.Status) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) { encodeStatusFields(e, st) })
	return e.Bytes()
}

func encodeStatusFields(e *jx.Encoder, st synchronizer.Status) {
	e.Field("state", func(e *jx.Encoder) { e.Str(st.State.String()) })
	e.Field("items", func(e *jx.Encoder) { e.Int(st.Items) })
	if st.Source != "" {
		e.Field("source", func(e *jx.Encoder) { e.Str(string(st.Source)) })
	}
	if !st.FetchedAt.IsZero() {
		e.Field("fetchedAt", func(e *jx.Encoder) { e.Str(st.FetchedAt.UTC().Format(time.RFC3339)) })
	}
	if !st.StoredAt.IsZero() {
		e.Field("storedAt", func(e *jx.Encoder) { e.Str(st.StoredAt.UTC().Format(time.RFC3339)) })
	}
	e.Field("refreshing", func(e *jx.Encoder) { e.Bool(st.Refreshing) })
	e.Field("generation", func(e *jx.Encoder) { e.UInt64(st.Generation) })
	if st.Err != nil {
		e.Field("error", func(e *jx.Encoder) { e.Str(st.Err.Error()) })
	}
}
