// Command shard-catalog splits a CSV catalog export into JSON shard files
// that the shards source kind reads back concurrently.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
	"github.com/aap-rauf/Quick-Scan/internal/fetch"
)

type options struct {
	in     string
	outDir string
	prefix string
	shards int
	gzip   bool
}

func main() {
	var opts options

	flag.StringVar(&opts.in, "in", "catalog.csv", "CSV export to split")
	flag.StringVar(&opts.outDir, "out", "shards", "directory for shard files")
	flag.StringVar(&opts.prefix, "prefix", "catalog", "shard file name prefix")
	flag.IntVar(&opts.shards, "shards", 4, "number of shard files")
	flag.BoolVar(&opts.gzip, "gzip", false, "write .json.gz shards")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	paths, err := run(ctx, opts)
	if err != nil {
		slog.Error("shard catalog failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Shard order is dataset order; list them in the same order in config.
	for _, p := range paths {
		fmt.Println(p)
	}
}

func run(ctx context.Context, opts options) ([]string, error) {
	if opts.shards < 1 {
		return nil, errors.Errorf("invalid shard count %d", opts.shards)
	}

	f, err := os.Open(opts.in)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	defer func() { _ = f.Close() }()

	rows, err := fetch.ParseCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", opts.in)
	}
	items := catalog.NormalizeAll(rows)
	if len(items) == 0 {
		return nil, errors.Errorf("%s has no items", opts.in)
	}
	slog.Info("catalog parsed",
		slog.Int("rows", len(rows)),
		slog.Int("items", len(items)),
	)

	reportDuplicates(catalog.NewDataset(items, time.Now(), catalog.SourceLive))

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}

	parts := split(items, opts.shards)
	paths := make([]string, len(parts))
	for i := range parts {
		name := fmt.Sprintf("%s-%03d.json", opts.prefix, i+1)
		if opts.gzip {
			name += ".gz"
		}
		paths[i] = filepath.Join(opts.outDir, name)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(writeShard(ctx, paths[i], part, opts.gzip))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("shards written", slog.Int("shards", len(paths)), slog.String("dir", opts.outDir))
	return paths, nil
}

// split cuts items into at most n contiguous, nearly equal parts. Order is
// preserved so reading the parts back in order yields the same catalog.
func split(items []catalog.Item, n int) [][]catalog.Item {
	n = min(n, len(items))
	parts := make([][]catalog.Item, 0, n)
	size, rest := len(items)/n, len(items)%n
	for i := 0; i < len(items); {
		end := i + size
		if len(parts) < rest {
			end++
		}
		parts = append(parts, items[i:end])
		i = end
	}
	return parts
}

func writeShard(ctx context.Context, path string, items []catalog.Item, compress bool) func() error {
	return func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		var e jx.Encoder
		catalog.EncodeRows(&e, slices.All(items))

		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "create %s", path)
		}
		defer func() { _ = f.Close() }()

		var w io.Writer = f
		var gz *pgzip.Writer
		if compress {
			gz = pgzip.NewWriter(f)
			w = gz
		}
		if _, err := w.Write(e.Bytes()); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
		if gz != nil {
			if err := gz.Close(); err != nil {
				return errors.Wrapf(err, "flush %s", path)
			}
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "close %s", path)
		}

		slog.Info("shard written", slog.String("path", path), slog.Int("items", len(items)))
		return nil
	}
}

// reportDuplicates warns about barcodes shared by several items: lookups
// return the first of them, so the rest are unreachable by that barcode.
func reportDuplicates(ds *catalog.Dataset) {
	dups := catalog.DuplicateBarcodes(ds)
	if len(dups) == 0 {
		return
	}
	for _, d := range dups {
		skus := make([]string, len(d.Items))
		for i, idx := range d.Items {
			skus[i] = ds.At(idx).SKU
		}
		slog.Warn("duplicate barcode",
			slog.String("barcode", d.Barcode),
			slog.String("skus", strings.Join(skus, ", ")),
		)
	}
	slog.Warn("duplicate barcodes found", slog.Int("count", len(dups)))
}
