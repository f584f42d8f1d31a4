// Package synchronizer decides which catalog dataset is active. It serves
// cached data as soon as it exists, refreshes it in the background once it
// is older than the freshness window, and turns every fetch outcome into
// one of a few readiness states.
package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// DefaultTTL is the freshness window used when none is configured.
const DefaultTTL = 12 * time.Hour

type fetchMode string

const (
	modeForeground fetchMode = "foreground"
	modeBackground fetchMode = "background"
)

// Synchronizer owns the active dataset. All methods are safe for
// concurrent use.
type Synchronizer struct {
	fetcher Fetcher
	store   Store
	ttl     time.Duration
	now     func() time.Time
	lg      *zap.Logger

	fetches  metric.Int64Counter
	duration metric.Float64Histogram

	// snap is swapped whole; readers never take mu.
	snap atomic.Pointer[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	gen         uint64
	inflight    bool
	refreshing  bool
	initialized bool
	closed      bool
	storedAt    time.Time
	subs        map[int]chan Status
	nextSub     int
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithTTL sets the freshness window. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Synchronizer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Synchronizer) { s.lg = lg }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithMeterProvider enables fetch metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Synchronizer) { s.initMetrics(mp) }
}

// New creates a Synchronizer in the Empty state. A nil store disables
// caching.
func New(fetcher Fetcher, store Store, opts ...Option) *Synchronizer {
	if store == nil {
		store = NopStore{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		fetcher: fetcher,
		store:   store,
		ttl:     DefaultTTL,
		now:     time.Now,
		lg:      zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		subs:    map[int]chan Status{},
	}
	s.initMetrics(noop.NewMeterProvider())
	for _, o := range opts {
		o(s)
	}
	s.snap.Store(&Snapshot{State: Empty})
	return s
}

func (s *Synchronizer) initMetrics(mp metric.MeterProvider) {
	meter := mp.Meter("github.com/aap-rauf/Quick-Scan/internal/synchronizer")
	var err error
	if s.fetches, err = meter.Int64Counter("quickscan.fetch.count",
		metric.WithDescription("Completed catalog fetches"),
	); err != nil {
		s.fetches, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	if s.duration, err = meter.Float64Histogram("quickscan.fetch.duration",
		metric.WithDescription("Catalog fetch duration"),
		metric.WithUnit("s"),
	); err != nil {
		s.duration, _ = noop.NewMeterProvider().Meter("").Float64Histogram("")
	}
}

// Snapshot returns the current state and dataset. It never blocks.
func (s *Synchronizer) Snapshot() Snapshot {
	return *s.snap.Load()
}

// TTL returns the freshness window.
func (s *Synchronizer) TTL() time.Duration { return s.ttl }

// Status describes the synchronizer for display.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Synchronizer) statusLocked() Status {
	snap := s.snap.Load()
	st := Status{
		State:      snap.State,
		Refreshing: s.refreshing,
		Err:        snap.Err,
		Generation: s.gen,
		StoredAt:   s.storedAt,
	}
	if snap.Dataset != nil {
		st.Items = snap.Dataset.Len()
		st.Source = snap.Dataset.Source()
		st.FetchedAt = snap.Dataset.FetchedAt()
	}
	return st
}

// Initialize loads the cache and, failing that, the source. A cached
// dataset is served at once whatever its age; the freshness window only
// decides whether a background refresh starts. Without a cache the call
// blocks on a foreground fetch. Later calls just return the status.
func (s *Synchronizer) Initialize(ctx context.Context) Status {
	s.mu.Lock()
	if s.initialized || s.closed {
		defer s.mu.Unlock()
		return s.statusLocked()
	}
	s.initialized = true
	s.mu.Unlock()

	entry, ok := s.store.Read(ctx)
	if !ok {
		s.lg.Info("No usable cache, fetching")
		return s.load(ctx, nil)
	}

	stale := Stale(entry.StoredAt, s.now(), s.ttl)
	s.lg.Info("Serving cached catalog",
		zap.Int("items", entry.Dataset.Len()),
		zap.Time("stored_at", entry.StoredAt),
		zap.Bool("stale", stale),
	)

	s.mu.Lock()
	// A foreground load may have started between the two locks.
	if s.snap.Load().State == Empty {
		s.storedAt = entry.StoredAt
		s.setLocked(&Snapshot{State: Ready, Dataset: entry.Dataset})
	}
	s.mu.Unlock()

	if stale {
		s.Refresh()
	}
	return s.Status()
}

// Reload runs a foreground fetch regardless of cache age. While any fetch
// is in flight it does nothing and returns the current status.
func (s *Synchronizer) Reload(ctx context.Context) Status {
	return s.load(ctx, nil)
}

// Retry re-runs the foreground fetch after a failure. In any state other
// than Failed or Empty it only returns the status.
func (s *Synchronizer) Retry(ctx context.Context) Status {
	return s.load(ctx, func(st State) bool { return st == Failed || st == Empty })
}

// Refresh starts a background fetch while Ready. The active dataset stays
// queryable and is swapped only if the fetch succeeds. It reports whether
// a fetch was started.
func (s *Synchronizer) Refresh() bool {
	s.mu.Lock()
	if s.closed || s.inflight || s.snap.Load().State != Ready {
		s.mu.Unlock()
		return false
	}
	gen := s.beginLocked()
	s.refreshing = true
	s.broadcastLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, gen, modeBackground)
	}()
	return true
}

// Run refreshes the dataset in the background whenever it has outlived the
// freshness window, checking every interval. It returns when ctx is done.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("invalid refresh interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			due := !s.storedAt.IsZero() && Stale(s.storedAt, s.now(), s.ttl)
			s.mu.Unlock()
			if due && s.Refresh() {
				s.lg.Debug("Catalog outlived freshness window, refreshing")
			}
		}
	}
}

// Subscribe returns a channel receiving the latest status after every
// change. Slow readers only miss intermediate statuses. Call the returned
// function to unsubscribe.
func (s *Synchronizer) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.statusLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close abandons in-flight fetches. Their results, should they still
// arrive, are discarded. Use Wait to block until background work exits.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	s.inflight = false
	s.refreshing = false
	s.cancel()
	s.broadcastLocked()
}

// Wait blocks until background refreshes have finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// load runs a foreground fetch: the state is Loading until it resolves.
// A non-nil allow is checked against the current state under the lock.
func (s *Synchronizer) load(ctx context.Context, allow func(State) bool) Status {
	s.mu.Lock()
	if s.closed || s.inflight || (allow != nil && !allow(s.snap.Load().State)) {
		defer s.mu.Unlock()
		return s.statusLocked()
	}
	s.initialized = true
	gen := s.beginLocked()
	prev := s.snap.Load()
	s.setLocked(&Snapshot{State: Loading, Dataset: prev.Dataset})
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.run(ctx, gen, modeForeground)
	return s.Status()
}

func (s *Synchronizer) beginLocked() uint64 {
	s.gen++
	s.inflight = true
	return s.gen
}

// run performs one fetch for generation gen and publishes its outcome.
func (s *Synchronizer) run(ctx context.Context, gen uint64, mode fetchMode) {
	start := s.now()
	ds, err := s.fetcher.Fetch(ctx)
	if err == nil && (ds == nil || ds.Len() == 0) {
		err = errors.New("fetcher returned no items")
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("result", result),
	)
	s.fetches.Add(context.Background(), 1, attrs)
	s.duration.Record(context.Background(), s.now().Sub(start).Seconds(), attrs)

	if !s.publish(gen, ds, err, mode) {
		return
	}
	if err != nil {
		return
	}
	if werr := s.store.Write(ctx, ds); werr != nil {
		s.lg.Warn("Cache write failed", zap.Error(werr))
	}
}

// publish applies a fetch outcome unless a newer generation superseded it.
func (s *Synchronizer) publish(gen uint64, ds *catalog.Dataset, err error, mode fetchMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.lg.Debug("Discarding stale fetch result",
			zap.Uint64("generation", gen),
			zap.Uint64("current", s.gen),
		)
		return false
	}
	s.inflight = false
	s.refreshing = false

	prev := s.snap.Load()
	switch {
	case err == nil:
		s.storedAt = s.now()
		s.setLocked(&Snapshot{State: Ready, Dataset: ds})
		s.lg.Info("Catalog updated",
			zap.String("mode", string(mode)),
			zap.Int("items", ds.Len()),
		)
	case prev.Dataset != nil:
		s.setLocked(&Snapshot{State: Ready, Dataset: prev.Dataset, Err: err})
		s.lg.Warn("Fetch failed, keeping previous catalog",
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
	default:
		s.setLocked(&Snapshot{State: Failed, Err: err})
		s.lg.Error("Fetch failed with no catalog to fall back on", zap.Error(err))
	}
	return true
}

func (s *Synchronizer) setLocked(snap *Snapshot) {
	s.snap.Store(snap)
	s.broadcastLocked()
}

func (s *Synchronizer) broadcastLocked() {
	st := s.statusLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}
