package synchronizer

import (
	"time"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// State is the readiness of the active dataset.
type State int

const (
	// Empty means nothing was loaded yet.
	Empty State = iota
	// Loading means a foreground fetch is running and queries are held.
	Loading
	// Ready means a dataset is active and queries run against it.
	Ready
	// Failed means the last foreground fetch failed with no data to fall
	// back on.
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is one consistent view of the synchronizer. Dataset is non-nil
// whenever State is Ready and is never modified after publication.
type Snapshot struct {
	State   State
	Dataset *catalog.Dataset
	// Err is the failure behind Failed, or the last failed refresh while
	// Ready on older data. Nil after a successful fetch.
	Err error
}

// Status is a Snapshot plus bookkeeping, meant for display.
type Status struct {
	State      State
	Items      int
	Source     catalog.Source
	FetchedAt  time.Time
	StoredAt   time.Time
	Refreshing bool
	Err        error
	Generation uint64
}

// Stale reports whether data stored at storedAt should be refreshed.
func Stale(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) >= ttl
}
