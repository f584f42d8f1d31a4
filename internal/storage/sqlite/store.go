// Package sqlite persists the last good catalog dataset in a local SQLite
// file. Several processes may share one file: the database runs in WAL mode
// with a busy timeout.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// SchemaVersion is written to the metadata table by Migrate.
const SchemaVersion = 1

// DefaultKey is the row the catalog is stored under.
const DefaultKey = "catalog"

// Store is a single-key cache store backed by SQLite.
type Store struct {
	db  *sql.DB
	key string
	lg  *zap.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKey stores the dataset under another row key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger used to report unreadable entries.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Store) { s.lg = lg }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the database at path and migrates it.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "mkdir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "exec %q", pragma)
		}
	}

	s := &Store{
		db:  db,
		key: DefaultKey,
		lg:  zap.NewNop(),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin migrate")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return errors.Wrap(err, "create metadata")
	}
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key       TEXT PRIMARY KEY,
			value     BLOB NOT NULL,
			stored_at INTEGER NOT NULL
		)
	`); err != nil {
		return errors.Wrap(err, "create cache_entries")
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		return errors.Wrap(err, "set schema version")
	}
	return tx.Commit()
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Read returns the stored entry. Missing, unreadable and corrupt entries
// are all reported as a miss; the latter two are logged.
func (s *Store) Read(ctx context.Context) (*catalog.CacheEntry, bool) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE key = ?`, s.key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false
	case err != nil:
		s.lg.Warn("Cache read failed", zap.String("key", s.key), zap.Error(err))
		return nil, false
	}

	entry, err := catalog.DecodeEntry(value)
	if err != nil {
		s.lg.Warn("Ignoring corrupt cache entry", zap.String("key", s.key), zap.Error(err))
		return nil, false
	}
	return entry, true
}

// Write replaces the stored entry with ds, stamped with the current time.
func (s *Store) Write(ctx context.Context, ds *catalog.Dataset) error {
	storedAt := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, stored_at) VALUES (?, ?, ?)`,
		s.key, catalog.EncodeEntry(ds, storedAt), storedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "write cache entry")
	}
	return nil
}

// Clear removes the stored entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, s.key); err != nil {
		return errors.Wrap(err, "clear cache entry")
	}
	return nil
}

// writeRaw stores value as-is. Tests use it to plant corrupt entries.
func (s *Store) writeRaw(ctx context.Context, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, stored_at) VALUES (?, ?, ?)`,
		s.key, value, s.now().UnixMilli(),
	)
	return err
}
