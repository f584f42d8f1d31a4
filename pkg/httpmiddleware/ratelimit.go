package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig allows Max requests per Window for each key, refilled
// continuously. Max <= 0 disables limiting.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc extracts the limiting key; the client IP when nil.
	KeyFunc func(*http.Request) string
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type limiters struct {
	cfg      RateLimitConfig
	interval time.Duration // time to earn one token

	mu sync.Mutex
	m  map[string]*limiterEntry
}

func newLimiters(cfg RateLimitConfig) *limiters {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &limiters{
		cfg:      cfg,
		interval: cfg.Window / time.Duration(max(cfg.Max, 1)),
		m:        map[string]*limiterEntry{},
	}
}

func (l *limiters) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(l.interval), l.cfg.Max)}
		l.m[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// sweep drops limiters idle for a whole window: they have refilled and are
// indistinguishable from new ones.
func (l *limiters) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.m {
		if now.Sub(e.lastSeen) >= l.cfg.Window {
			delete(l.m, key)
		}
	}
}

func (l *limiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// RateLimit limits requests per client. Every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset; rejected
// ones get 429 with Retry-After. Idle clients are forgotten every window
// until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiters(cfg)
	go func() {
		ticker := time.NewTicker(l.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
	return l.middleware
}

func (l *limiters) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		lim := l.get(l.cfg.KeyFunc(r), now)
		allowed := lim.AllowN(now, 1)
		tokens := lim.TokensAt(now)

		remaining := max(int(math.Floor(tokens)), 0)
		full := time.Duration((float64(l.cfg.Max) - tokens) * float64(l.interval))
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(full).Unix(), 10))

		if !allowed {
			wait := time.Duration((1 - tokens) * float64(l.interval))
			h.Set("Retry-After", strconv.Itoa(max(int(math.Ceil(wait.Seconds())), 1)))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
