// Package query answers suffix lookups against the active catalog.
package query

import (
	"strings"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
)

// Kind classifies a lookup result.
type Kind int

const (
	// Empty means the query was blank; the display should be cleared.
	Empty Kind = iota
	// NotFound means no item matched.
	NotFound
	// Found means Item holds the first match in dataset order.
	Found
	// NotReady means no dataset is active yet; the query was not run.
	NotReady
	// Failed means loading failed; Err holds the cause.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case NotReady:
		return "not_ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result of a lookup.
type Result struct {
	Kind  Kind
	Query string // normalized query
	Item  catalog.Item
	Index int // position of Item in the dataset, -1 unless Found
	Err   error
}

// Normalize trims and lowercases a raw query.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Match returns the first item whose SKU or any barcode ends with the
// normalized query.
func Match(ds *catalog.Dataset, raw string) Result {
	q := Normalize(raw)
	if q == "" {
		return Result{Kind: Empty, Index: -1}
	}
	if i, it, ok := ds.FindSuffix(q); ok {
		return Result{Kind: Found, Query: q, Item: it, Index: i}
	}
	return Result{Kind: NotFound, Query: q, Index: -1}
}

// Snapshotter exposes the active dataset.
type Snapshotter interface {
	Snapshot() synchronizer.Snapshot
}

// Engine runs lookups against whatever dataset is active at call time.
type Engine struct {
	src Snapshotter
}

// New returns an Engine reading from src.
func New(src Snapshotter) *Engine {
	return &Engine{src: src}
}

// Query looks raw up in the active dataset. Lookups are only run while
// Ready; otherwise the result carries the readiness instead.
func (e *Engine) Query(raw string) Result {
	q := Normalize(raw)
	if q == "" {
		return Result{Kind: Empty, Index: -1}
	}

	snap := e.src.Snapshot()
	switch snap.State {
	case synchronizer.Ready:
		return Match(snap.Dataset, q)
	case synchronizer.Failed:
		return Result{Kind: Failed, Query: q, Index: -1, Err: snap.Err}
	default:
		return Result{Kind: NotReady, Query: q, Index: -1}
	}
}
