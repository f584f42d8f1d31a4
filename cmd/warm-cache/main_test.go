package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/app"
	"github.com/aap-rauf/Quick-Scan/internal/fetch"
)

func TestRun_WarmsAndClears(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "catalog.csv")
	require.NoError(t, os.WriteFile(src, []byte("A100,Widget,000111222\nB200,Gadget,333\n"), 0o600))

	cfg := &app.Config{
		Source: fetch.SourceConfig{Kind: fetch.SourceCSV, URL: src, Timeout: time.Second},
		Cache:  app.CacheConfig{Driver: app.CacheSQLite, Path: filepath.Join(dir, "cache.db"), Key: "catalog"},
	}

	require.NoError(t, run(ctx, cfg, false))

	store, release, err := app.OpenStore(ctx, cfg.Cache, zap.NewNop())
	require.NoError(t, err)
	entry, ok := store.Read(ctx)
	release()
	require.True(t, ok)
	assert.Equal(t, 2, entry.Dataset.Len())

	require.NoError(t, run(ctx, cfg, true))

	store, release, err = app.OpenStore(ctx, cfg.Cache, zap.NewNop())
	require.NoError(t, err)
	defer release()
	_, ok = store.Read(ctx)
	assert.False(t, ok)
}

func TestRun_RejectsVolatileCache(t *testing.T) {
	cfg := &app.Config{Cache: app.CacheConfig{Driver: app.CacheMemory}}
	assert.ErrorContains(t, run(context.Background(), cfg, false), "does not persist")
}
