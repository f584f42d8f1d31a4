package app

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aap-rauf/Quick-Scan/internal/fetch"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("QUICKSCAN_SOURCE_URL", "https://docs.example.com/sheet")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := loadConfig(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, fetch.SourceTable, cfg.Source.Kind)
	assert.Equal(t, 12*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 1, cfg.Source.Retries)
	assert.Equal(t, CacheSQLite, cfg.Cache.Driver)
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "catalog", cfg.Cache.Key)
	assert.Equal(t, "cache.db", filepath.Base(cfg.Cache.Path))
	assert.Equal(t, time.Minute, cfg.Refresh.Interval)
	assert.True(t, cfg.Refresh.WatchFiles)
	assert.Equal(t, "code128", cfg.Barcode.Symbology)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
}

func TestLoadConfig_YAML(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	path := filepath.Join(t.TempDir(), "quickscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: 127.0.0.1:9000
source:
  kind: shards
  shards:
    - https://cdn.example.com/part-1.json
    - https://cdn.example.com/part-2.json.gz
  retries: 2
cache:
  driver: memory
  ttl: 30m
`), 0o600))

	cfg, err := loadConfig([]string{path}, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, fetch.SourceShards, cfg.Source.Kind)
	assert.Len(t, cfg.Source.Shards, 2)
	assert.Equal(t, 2, cfg.Source.Retries)
	assert.Equal(t, CacheMemory, cfg.Cache.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("QUICKSCAN_SOURCE_URL", "https://docs.example.com/sheet")
	t.Setenv("QUICKSCAN_CACHE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://scan@db/quickscan")
	t.Setenv("PORT", "3000")

	cfg, err := loadConfig(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://scan@db/quickscan", cfg.Cache.DatabaseURL)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr)
}

func TestLoadConfig_Flags(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := loadConfig(nil, []string{
		"-source.kind=csv",
		"-source.url=/srv/catalog.csv",
		"-cache.driver=none",
	})
	require.NoError(t, err)
	assert.Equal(t, fetch.SourceCSV, cfg.Source.Kind)
	assert.Equal(t, "/srv/catalog.csv", cfg.Source.URL)
	assert.Equal(t, CacheNone, cfg.Cache.Driver)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Source:  fetch.SourceConfig{Kind: fetch.SourceAPI, URL: "https://api.example.com/rows"},
			Cache:   CacheConfig{Driver: CacheSQLite, Path: "/tmp/cache.db", TTL: time.Hour},
			Refresh: RefreshConfig{Interval: time.Minute},
			Log:     LogConfig{Level: "info"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no source", mutate: func(c *Config) { c.Source.URL = "" }, errMsg: "requires a URL"},
		{name: "unknown driver", mutate: func(c *Config) { c.Cache.Driver = "redis" }, errMsg: "unknown driver"},
		{name: "postgres without url", mutate: func(c *Config) { c.Cache.Driver = CachePostgres }, errMsg: "DATABASE_URL"},
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.TTL = 0 }, errMsg: "ttl"},
		{name: "zero interval", mutate: func(c *Config) { c.Refresh.Interval = 0 }, errMsg: "interval"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, errMsg: "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_ExtraFlags(t *testing.T) {
	t.Setenv("QUICKSCAN_SOURCE_URL", "https://docs.example.com/sheet")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	var clear bool
	_, err := loadConfig(nil, []string{"-clear"}, func(fs *flag.FlagSet) {
		fs.BoolVar(&clear, "clear", false, "")
	})
	require.NoError(t, err)
	assert.True(t, clear)
}
