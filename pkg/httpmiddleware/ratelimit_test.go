package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/lookup", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func limited(t *testing.T, cfg RateLimitConfig) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return RateLimit(ctx, cfg)(okHandler())
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 5, Window: time.Minute})

	for i := range 5 {
		w := hit(h, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 2, Window: time.Minute})

	assert.Equal(t, "1", hit(h, "10.0.0.1:9999", nil).Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999", nil).Code)

	w := hit(h, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimit_Refills(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 1, Window: 50 * time.Millisecond})

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1", nil).Code)

	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", nil).Code)
}

func TestRateLimit_Keys(t *testing.T) {
	t.Run("per client ip", func(t *testing.T) {
		h := limited(t, RateLimitConfig{Max: 1, Window: time.Minute})
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234", nil).Code)
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234", nil).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678", nil).Code)
	})
	t.Run("forwarded for", func(t *testing.T) {
		h := limited(t, RateLimitConfig{Max: 1, Window: time.Minute})
		xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:4444", xff).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.2:5555", xff).Code)
	})
	t.Run("custom key", func(t *testing.T) {
		h := limited(t, RateLimitConfig{
			Max:     1,
			Window:  time.Minute,
			KeyFunc: func(r *http.Request) string { return r.Header.Get("X-Device") },
		})
		assert.Equal(t, http.StatusOK, hit(h, "", map[string]string{"X-Device": "scanner-a"}).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "", map[string]string{"X-Device": "scanner-a"}).Code)
		assert.Equal(t, http.StatusOK, hit(h, "", map[string]string{"X-Device": "scanner-b"}).Code)
	})
}

func TestRateLimit_Disabled(t *testing.T) {
	h := limited(t, RateLimitConfig{})
	for range 100 {
		w := hit(h, "10.0.0.1:1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestLimiters_Sweep(t *testing.T) {
	l := newLimiters(RateLimitConfig{Max: 3, Window: time.Minute})
	now := time.Now()
	l.get("a", now)
	l.get("b", now.Add(50*time.Second))

	l.sweep(now.Add(61 * time.Second))
	assert.Equal(t, 1, l.len())
}
