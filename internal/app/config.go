package app

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/fetch"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (QUICKSCAN_ prefix), flags, a .env file or YAML
// config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"Lookup server listen address"`
	Source    fetch.SourceConfig
	Cache     CacheConfig
	Refresh   RefreshConfig
	Barcode   barcode.Config
	Log       LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// Cache drivers.
const (
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheMemory   = "memory"
	CacheNone     = "none"
)

// CacheConfig selects where the last good catalog is kept.
type CacheConfig struct {
	Driver      string        `default:"sqlite" usage:"Cache store: sqlite, postgres, memory or none"`
	Path        string        `usage:"SQLite cache file (default: user cache dir)"`
	DatabaseURL string        `usage:"PostgreSQL URL for the postgres driver (or DATABASE_URL)" flag:"database-url"`
	Key         string        `default:"catalog" usage:"Cache entry key, one per catalog"`
	TTL         time.Duration `default:"12h" usage:"Freshness window before a background refresh"`
}

// RefreshConfig controls refreshes of a long-running process.
type RefreshConfig struct {
	Interval   time.Duration `default:"1m" usage:"How often the catalog age is checked"`
	WatchFiles bool          `default:"true" usage:"Refresh when a local source file changes" flag:"watch-files"`
}

// LogConfig controls the terminal scanner's log file. The server logs to
// stderr.
type LogConfig struct {
	File       string `usage:"Log file (default: user cache dir)"`
	Level      string `default:"info" usage:"Log level"`
	MaxSizeMB  int    `default:"10" usage:"Rotate the log file after this many megabytes" flag:"log-max-size"`
	MaxBackups int    `default:"3" usage:"Rotated log files to keep" flag:"log-max-backups"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"600" usage:"Max requests per window, 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

var defaultFiles = []string{"quickscan.yaml", "/etc/quick-scan/config.yaml"}

// LoadConfig loads .env, then configuration from environment variables,
// YAML config files and command-line flags. Commands register their own
// flags through extra.
func LoadConfig(extra ...func(*flag.FlagSet)) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()
	return loadConfig(defaultFiles, os.Args[1:], extra...)
}

// loadConfig skips flag parsing when args is nil.
func loadConfig(files, args []string, extra ...func(*flag.FlagSet)) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "QUICKSCAN",
		Files:     files,
		SkipFlags: args == nil,
		Args:      args,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if args != nil {
		for _, fn := range extra {
			fn(loader.Flags())
		}
	}
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the standard DATABASE_URL and PORT variables
// and fills paths that depend on the user's cache directory.
func (c *Config) applyPlatformDefaults() {
	if c.Cache.DatabaseURL == "" {
		c.Cache.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(dir, "quick-scan", "cache.db")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(dir, "quick-scan", "quick-scan.log")
	}
}

// Validate rejects configuration the application cannot start with.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return errors.Wrap(err, "source")
	}
	switch c.Cache.Driver {
	case CacheSQLite:
		if c.Cache.Path == "" {
			return errors.New("cache: sqlite driver requires a path")
		}
	case CachePostgres:
		if c.Cache.DatabaseURL == "" {
			return errors.New("cache: postgres driver requires QUICKSCAN_CACHE_DATABASE_URL or DATABASE_URL")
		}
	case CacheMemory, CacheNone:
	default:
		return errors.Errorf("cache: unknown driver %q", c.Cache.Driver)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache: ttl must be positive")
	}
	if c.Refresh.Interval <= 0 {
		return errors.New("refresh: interval must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	return nil
}
