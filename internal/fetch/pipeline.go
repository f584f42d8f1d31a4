// Package fetch retrieves a product catalog from its configured source and
// turns it into a catalog.Dataset. It never touches the cache.
package fetch

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// Pipeline fetches, parses and normalizes one source.
type Pipeline struct {
	cfg    SourceConfig
	client *http.Client
	lg     *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

// WithLogger sets the logger used for retry and diagnostics messages.
func WithLogger(lg *zap.Logger) Option {
	return func(p *Pipeline) { p.lg = lg }
}

// WithTracerProvider enables a span per fetch attempt.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer("github.com/aap-rauf/Quick-Scan/internal/fetch") }
}

func withClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline for cfg. Zero timeout falls back to DefaultTimeout.
func New(cfg SourceConfig, opts ...Option) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	p := &Pipeline{
		cfg:    cfg,
		client: &http.Client{},
		lg:     zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the source configuration the pipeline reads.
func (p *Pipeline) Config() SourceConfig { return p.cfg }

// Fetch loads the source into a new live Dataset. Retryable failures are
// retried up to cfg.Retries times with exponential backoff. The returned
// error always matches one of ErrNetwork, ErrTimeout, ErrParse or
// ErrEmptyResult.
func (p *Pipeline) Fetch(ctx context.Context) (*catalog.Dataset, error) {
	var (
		ds      *catalog.Dataset
		attempt int
	)
	op := func() error {
		attempt++
		res, err := p.attempt(ctx, attempt)
		if err == nil {
			ds = res
			return nil
		}

		var fe *Error
		if ctx.Err() != nil || (errors.As(err, &fe) && !fe.Retryable()) {
			return backoff.Permanent(err)
		}
		if attempt <= p.cfg.Retries {
			p.lg.Warn("Fetch attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.Retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			// ctx ended while waiting between attempts.
			return nil, p.abandoned(ctx, err)
		}
		return nil, err
	}
	return ds, nil
}

func (p *Pipeline) abandoned(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTimeout, p.describe(), errors.Wrap(err, "deadline passed before next attempt"))
	}
	return newError(ErrNetwork, p.describe(), errors.Wrap(err, "canceled before next attempt"))
}

// attempt runs one bounded fetch. The load runs on its own goroutine so a
// source that ignores cancellation cannot hold the caller past the
// deadline; its late result lands in a buffered channel nobody reads.
func (p *Pipeline) attempt(ctx context.Context, n int) (*catalog.Dataset, error) {
	ctx, span := p.tracer.Start(ctx, "fetch.Attempt", trace.WithAttributes(
		attribute.String("source.kind", string(p.cfg.Kind)),
		attribute.Int("attempt", n),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	type result struct {
		rows []catalog.RawRow
		err  error
	}
	done := make(chan result, 1)
	go func() {
		rows, err := p.load(ctx)
		done <- result{rows: rows, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		err := p.classify(ctx, res.err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	items := catalog.NormalizeAll(res.rows)
	if len(items) == 0 {
		err := newError(ErrEmptyResult, p.describe(), errors.Errorf("%d rows parsed, none usable", len(res.rows)))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("items", len(items)))

	ds := catalog.NewDataset(items, p.now(), catalog.SourceLive)
	if dups := catalog.DuplicateBarcodes(ds); len(dups) > 0 {
		p.lg.Warn("Barcodes shared by several items; lookups resolve to the first",
			zap.Int("count", len(dups)),
			zap.String("example", dups[0].Barcode),
		)
	}
	return ds, nil
}

// classify makes sure every failure carries a kind.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTimeout, p.describe(), errors.Errorf("no response within %s", p.cfg.Timeout))
	}
	return newError(ErrNetwork, p.describe(), err)
}

func (p *Pipeline) describe() string {
	if p.cfg.Kind == SourceShards {
		return "shards"
	}
	return p.cfg.URL
}

func (p *Pipeline) load(ctx context.Context) ([]catalog.RawRow, error) {
	switch p.cfg.Kind {
	case SourceShards:
		return p.loadShards(ctx)
	case SourceTable:
		return p.loadOne(ctx, p.cfg.URL, ParseTable)
	case SourceCSV:
		return p.loadOne(ctx, p.cfg.URL, func(data []byte) ([]catalog.RawRow, error) {
			return ParseCSV(bytes.NewReader(data))
		})
	case SourceAPI:
		return p.loadOne(ctx, p.cfg.URL, ParseRowArray)
	default:
		return nil, newError(ErrParse, p.cfg.URL, errors.Errorf("unknown source kind %q", p.cfg.Kind))
	}
}

func (p *Pipeline) loadOne(
	ctx context.Context,
	loc string,
	parse func([]byte) ([]catalog.RawRow, error),
) ([]catalog.RawRow, error) {
	data, err := p.readLocation(ctx, loc)
	if err != nil {
		return nil, err
	}
	rows, err := parse(data)
	if err != nil {
		return nil, parseError(loc, err)
	}
	return rows, nil
}

// loadShards fetches every shard concurrently. Any failing shard fails the
// whole load: a partial catalog would silently hide products.
func (p *Pipeline) loadShards(ctx context.Context) ([]catalog.RawRow, error) {
	parts := make([][]catalog.RawRow, len(p.cfg.Shards))

	g, ctx := errgroup.WithContext(ctx)
	for i, loc := range p.cfg.Shards {
		g.Go(p.loadShard(ctx, i, loc, parts))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, part := range parts {
		total += len(part)
	}
	rows := make([]catalog.RawRow, 0, total)
	for _, part := range parts {
		rows = append(rows, part...)
	}
	return rows, nil
}

func (p *Pipeline) loadShard(ctx context.Context, idx int, loc string, parts [][]catalog.RawRow) func() error {
	return func() error {
		rows, err := p.loadOne(ctx, loc, ParseRowArray)
		if err != nil {
			return errors.Wrapf(err, "shard %d", idx+1)
		}
		p.lg.Debug("Shard loaded", zap.Int("shard", idx+1), zap.Int("rows", len(rows)))
		parts[idx] = rows
		return nil
	}
}
