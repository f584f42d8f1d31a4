package synchronizer

import (
	"context"
	"sync"
	"time"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// Fetcher produces a fresh dataset from the configured source.
type Fetcher interface {
	Fetch(ctx context.Context) (*catalog.Dataset, error)
}

// Store persists the last good dataset. Read never fails: missing and
// corrupt entries are both a miss.
type Store interface {
	Read(ctx context.Context) (*catalog.CacheEntry, bool)
	Write(ctx context.Context, ds *catalog.Dataset) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*catalog.Dataset, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (*catalog.Dataset, error) { return f(ctx) }

// NopStore never remembers anything.
type NopStore struct{}

func (NopStore) Read(context.Context) (*catalog.CacheEntry, bool) { return nil, false }

func (NopStore) Write(context.Context, *catalog.Dataset) error { return nil }

// MemoryStore keeps the entry in process memory. It goes through the same
// encoding as persistent stores so readers get a SourceCache dataset.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	now  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Read(context.Context) (*catalog.CacheEntry, bool) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	if data == nil {
		return nil, false
	}
	entry, err := catalog.DecodeEntry(data)
	if err != nil {
		return nil, false
	}
	return entry, true
}

func (m *MemoryStore) Write(_ context.Context, ds *catalog.Dataset) error {
	data := catalog.EncodeEntry(ds, m.now())
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// Put stores ds as if it had been written at storedAt.
func (m *MemoryStore) Put(ds *catalog.Dataset, storedAt time.Time) {
	data := catalog.EncodeEntry(ds, storedAt)
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
}

// Clear forgets the stored entry.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}
