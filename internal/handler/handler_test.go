package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
	"github.com/aap-rauf/Quick-Scan/internal/fetch"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
	"github.com/aap-rauf/Quick-Scan/pkg/health"
)

func widgets() *catalog.Dataset {
	return catalog.NewDataset([]catalog.Item{
		catalog.Normalize(catalog.RawRow{SKU: "A100", Name: "Widget", Barcode: "000111222, 999", Category: "Tools"}),
		catalog.Normalize(catalog.RawRow{SKU: "B200", Name: "Gadget"}),
	}, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC), catalog.SourceLive)
}

type fixture struct {
	sync    *synchronizer.Synchronizer
	fetches *atomic.Int32
	server  *httptest.Server
}

func newFixture(t *testing.T, fetchErr error) *fixture {
	t.Helper()

	fetches := new(atomic.Int32)
	s := synchronizer.New(synchronizer.FetcherFunc(func(context.Context) (*catalog.Dataset, error) {
		fetches.Add(1)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return widgets(), nil
	}), nil)
	t.Cleanup(s.Close)

	renderer, err := barcode.New(barcode.Config{BaseURL: "https://img.example.com/api"})
	require.NoError(t, err)

	h := New(Config{PingInterval: time.Hour}, s, renderer, nil)
	hc := health.New()
	hc.SetReady(true)

	srv := httptest.NewServer(h.Router(hc))
	t.Cleanup(srv.Close)

	return &fixture{sync: s, fetches: fetches, server: srv}
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, http.NoBody)
	require.NoError(t, err)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

// fields flattens the top level of a JSON object into raw values.
func fields(t *testing.T, body []byte) map[string]string {
	t.Helper()

	out := map[string]string{}
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		out[key] = raw.String()
		return err
	})
	require.NoError(t, err, string(body))
	return out
}

func TestLookup(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/lookup?q=222")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, `"not_ready"`, fields(t, body)["status"])

	f.sync.Initialize(context.Background())

	resp, body = f.do(t, http.MethodGet, "/api/lookup?q=%20222%20")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := fields(t, body)
	assert.Equal(t, `"found"`, got["status"])
	assert.Equal(t, `"222"`, got["query"])

	item := fields(t, []byte(got["item"]))
	assert.Equal(t, `"A100"`, item["sku"])
	assert.Equal(t, `"Widget"`, item["name"])
	assert.Equal(t, `"000111222"`, item["primaryBarcode"])
	assert.Equal(t, `["000111222","999"]`, item["barcodes"])
	assert.Equal(t, `"https://img.example.com/api/code128/000111222"`, item["barcodeImage"])

	_, body = f.do(t, http.MethodGet, "/api/lookup?q=nope")
	assert.Equal(t, `"not_found"`, fields(t, body)["status"])

	_, body = f.do(t, http.MethodGet, "/api/lookup?q=")
	assert.Equal(t, `"empty"`, fields(t, body)["status"])
}

func TestLookup_Failed(t *testing.T) {
	f := newFixture(t, errors.New("sheet unreachable"))
	f.sync.Initialize(context.Background())

	resp, body := f.do(t, http.MethodGet, "/api/lookup?q=222")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	got := fields(t, body)
	assert.Equal(t, `"failed"`, got["status"])
	assert.Contains(t, got["error"], "sheet unreachable")
}

func TestStatusReloadRetry(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.do(t, http.MethodGet, "/api/status")
	assert.Equal(t, `"empty"`, fields(t, body)["state"])

	resp, body := f.do(t, http.MethodPost, "/api/retry")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := fields(t, body)
	assert.Equal(t, `"ready"`, got["state"])
	assert.Equal(t, "2", got["items"])
	assert.Equal(t, `"live"`, got["source"])
	assert.Equal(t, `"2026-05-01T08:00:00Z"`, got["fetchedAt"])
	assert.EqualValues(t, 1, f.fetches.Load())

	// Retry outside Failed/Empty is a no-op.
	f.do(t, http.MethodPost, "/api/retry")
	assert.EqualValues(t, 1, f.fetches.Load())

	f.do(t, http.MethodPost, "/api/reload")
	assert.EqualValues(t, 2, f.fetches.Load())

	resp, _ = f.do(t, http.MethodGet, "/api/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRows(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/rows")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.sync.Initialize(context.Background())

	resp, body := f.do(t, http.MethodGet, "/api/rows")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The rows endpoint is itself a valid api source.
	rows, err := fetch.ParseRowArray(body)
	require.NoError(t, err)
	items := catalog.NormalizeAll(rows)
	require.Len(t, items, 2)
	assert.Equal(t, "A100", items[0].SKU)
	assert.Equal(t, []string{"000111222", "999"}, items[0].Barcodes)
	assert.Equal(t, "Tools", items[0].Category)
	assert.Equal(t, "Gadget", items[1].Name)
}

func TestBarcode(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/barcode/4006381333931")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://img.example.com/api/code128/4006381333931", resp.Header.Get("Location"))
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"ok"`, fields(t, body)["status"])

	resp, _ = f.do(t, http.MethodGet, "/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]string {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		return fields(t, msg)
	}

	first := read()
	assert.Equal(t, `"status"`, first["type"])
	assert.Equal(t, `"empty"`, first["state"])

	f.sync.Initialize(context.Background())

	// Intermediate states may be coalesced; Ready must arrive.
	for range 3 {
		if read()["state"] == `"ready"` {
			return
		}
	}
	t.Fatal("no ready status received")
}

func TestEvents_ForeignOrigin(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		ok     bool
	}{
		{origin: "", ok: true},
		{origin: "http://scan.local:8080", ok: true},
		{origin: "HTTP://SCAN.LOCAL:8080", ok: true},
		{origin: "http://scan.local:9090", ok: false},
		{origin: "::bad", ok: false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://scan.local:8080/api/events", http.NoBody)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.ok, sameOrigin(r), tt.origin)
	}
}
