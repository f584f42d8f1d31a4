package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// CacheStore keeps one catalog entry per key in the catalog_cache table.
type CacheStore struct {
	pool *pgxpool.Pool
	key  string
	lg   *zap.Logger
	now  func() time.Time
}

// NewCacheStore returns a CacheStore that uses the given pool. The schema
// must already exist, see RunMigrations.
func NewCacheStore(pool *pgxpool.Pool, key string, lg *zap.Logger) *CacheStore {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &CacheStore{pool: pool, key: key, lg: lg, now: time.Now}
}

// Read returns the stored entry. Failures are logged and reported as a miss
// so that a database outage never blocks startup.
func (s *CacheStore) Read(ctx context.Context) (*catalog.CacheEntry, bool) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM catalog_cache WHERE key = $1`, s.key,
	).Scan(&payload)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.lg.Warn("Cache read failed", zap.String("key", s.key), zap.Error(err))
		}
		return nil, false
	}

	entry, err := catalog.DecodeEntry(payload)
	if err != nil {
		s.lg.Warn("Ignoring corrupt cache entry", zap.String("key", s.key), zap.Error(err))
		return nil, false
	}
	return entry, true
}

// Write upserts ds under the store key.
func (s *CacheStore) Write(ctx context.Context, ds *catalog.Dataset) error {
	storedAt := s.now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO catalog_cache (key, payload, item_count, fetched_at, stored_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			payload    = EXCLUDED.payload,
			item_count = EXCLUDED.item_count,
			fetched_at = EXCLUDED.fetched_at,
			stored_at  = EXCLUDED.stored_at`,
		s.key, catalog.EncodeEntry(ds, storedAt), ds.Len(), ds.FetchedAt(), storedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "write cache entry %q", s.key)
	}
	return nil
}

// Clear removes the stored entry.
func (s *CacheStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM catalog_cache WHERE key = $1`, s.key); err != nil {
		return errors.Wrapf(err, "clear cache entry %q", s.key)
	}
	return nil
}
