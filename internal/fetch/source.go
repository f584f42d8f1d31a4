package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

// SourceKind selects how a source payload is parsed.
type SourceKind string

const (
	// SourceTable is a spreadsheet export wrapping a JSON object in a
	// callback, e.g. Google visualization "gviz" output.
	SourceTable SourceKind = "table"
	// SourceShards is several JSON row arrays fetched concurrently.
	SourceShards SourceKind = "shards"
	// SourceCSV is a CSV export with an optional header row.
	SourceCSV SourceKind = "csv"
	// SourceAPI is a backend endpoint returning a bare JSON row array.
	SourceAPI SourceKind = "api"
)

const (
	// DefaultTimeout bounds a single fetch attempt.
	DefaultTimeout = 12 * time.Second

	maxBodySize = 32 << 20
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SourceConfig describes the one source a Pipeline reads.
type SourceConfig struct {
	Kind       SourceKind    `default:"table" usage:"Source kind: table, shards, csv or api"`
	URL        string        `usage:"Source location (http(s) URL, file:// URL or local path)"`
	Shards     []string      `usage:"Shard locations, used when kind is shards"`
	Timeout    time.Duration `default:"12s" usage:"Per-attempt fetch timeout"`
	Retries    int           `default:"1" usage:"Extra attempts after a retryable failure"`
	RetryDelay time.Duration `default:"500ms" usage:"Initial delay between attempts" flag:"retry-delay"`
}

// Validate reports configuration that can never produce a dataset.
func (c SourceConfig) Validate() error {
	switch c.Kind {
	case SourceTable, SourceCSV, SourceAPI:
		if strings.TrimSpace(c.URL) == "" {
			return errors.Errorf("source kind %q requires a URL", c.Kind)
		}
	case SourceShards:
		if len(c.Shards) == 0 {
			return errors.New("source kind \"shards\" requires at least one shard")
		}
	default:
		return errors.Errorf("unknown source kind %q", c.Kind)
	}
	if c.Retries < 0 {
		return errors.New("source retries must not be negative")
	}
	return nil
}

// Locations returns every location the source reads, in order.
func (c SourceConfig) Locations() []string {
	if c.Kind == SourceShards {
		return c.Shards
	}
	return []string{c.URL}
}

// LocalPaths returns the filesystem paths among Locations.
func (c SourceConfig) LocalPaths() []string {
	var paths []string
	for _, loc := range c.Locations() {
		if p, ok := localPath(loc); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

func localPath(loc string) (string, bool) {
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // windows drive letters
		return loc, loc != ""
	}
	if u.Scheme == "file" {
		return u.Path, u.Path != ""
	}
	return "", false
}

// readLocation reads a whole payload from an HTTP(S) URL or a local file,
// gunzipping it when the location ends in .gz.
func (p *Pipeline) readLocation(ctx context.Context, loc string) ([]byte, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if path, ok := localPath(loc); ok {
		rc, err = os.Open(path)
		if err != nil {
			return nil, newError(ErrNetwork, loc, errors.Wrap(err, "open"))
		}
	} else {
		rc, err = p.get(ctx, loc)
		if err != nil {
			return nil, err
		}
	}
	defer func() { _ = rc.Close() }()

	var r io.Reader = rc
	if isGzip(loc) {
		gz, err := pgzip.NewReader(rc)
		if err != nil {
			return nil, newError(ErrParse, loc, errors.Wrap(err, "create gzip reader"))
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(ErrTimeout, loc, err)
		}
		return nil, newError(ErrNetwork, loc, errors.Wrap(err, "read body"))
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

func (p *Pipeline) get(ctx context.Context, loc string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, http.NoBody)
	if err != nil {
		return nil, newError(ErrNetwork, loc, errors.Wrap(err, "create request"))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(ErrTimeout, loc, err)
		}
		return nil, newError(ErrNetwork, loc, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, newError(ErrNetwork, loc, errors.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func isGzip(loc string) bool {
	if u, err := url.Parse(loc); err == nil && u.Path != "" {
		loc = u.Path
	}
	return strings.HasSuffix(strings.ToLower(loc), ".gz")
}
