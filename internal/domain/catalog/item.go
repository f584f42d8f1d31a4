// Package catalog defines the product records Quick-Scan searches and the
// immutable datasets that carry them between the fetch pipeline, the cache
// stores and the query engine.
package catalog

import (
	"iter"
	"slices"
	"strings"
	"time"
)

// Source tells where a Dataset was loaded from.
type Source string

const (
	// SourceCache marks a dataset restored from a cache store.
	SourceCache Source = "cache"
	// SourceLive marks a dataset produced by a successful fetch.
	SourceLive Source = "live"
)

// Item is a normalized product record.
//
// SKU, Name and Barcodes keep their original case for display. The search
// projections are lowercase copies derived once by NewItem and never
// changed afterwards.
type Item struct {
	SKU            string
	Name           string
	Barcodes       []string
	PrimaryBarcode string
	Category       string

	searchSKU      string
	searchBarcodes []string
}

// NewItem builds an Item from already-clean values and derives the
// primary barcode and search projections. barcodes is copied.
func NewItem(sku, name string, barcodes []string, category string) Item {
	it := Item{
		SKU:       sku,
		Name:      name,
		Barcodes:  slices.Clone(barcodes),
		Category:  category,
		searchSKU: strings.ToLower(sku),
	}
	if len(barcodes) > 0 {
		it.PrimaryBarcode = it.Barcodes[0]
		it.searchBarcodes = make([]string, len(barcodes))
		for i, b := range it.Barcodes {
			it.searchBarcodes[i] = strings.ToLower(b)
		}
	}
	return it
}

// MatchesSuffix reports whether q (already trimmed and lowercased) is a
// suffix of the SKU or of any barcode.
func (it Item) MatchesSuffix(q string) bool {
	if strings.HasSuffix(it.searchSKU, q) {
		return true
	}
	for _, b := range it.searchBarcodes {
		if strings.HasSuffix(b, q) {
			return true
		}
	}
	return false
}

// clone detaches the exported barcode slice. The projections are never
// written after NewItem and stay shared.
func (it Item) clone() Item {
	it.Barcodes = slices.Clone(it.Barcodes)
	return it
}

// Dataset is an immutable, ordered collection of items plus fetch metadata.
// A new Dataset is built for every successful fetch or cache read; holders
// replace the whole pointer instead of editing one in place.
type Dataset struct {
	items     []Item
	fetchedAt time.Time
	source    Source
}

// NewDataset copies items into a new Dataset. Each item is rebuilt from its
// display fields, so the projections always agree with them.
func NewDataset(items []Item, fetchedAt time.Time, source Source) *Dataset {
	own := make([]Item, len(items))
	for i, it := range items {
		own[i] = NewItem(it.SKU, it.Name, it.Barcodes, it.Category)
	}
	return &Dataset{
		items:     own,
		fetchedAt: fetchedAt,
		source:    source,
	}
}

// Len returns the number of items.
func (d *Dataset) Len() int { return len(d.items) }

// At returns a copy of the i-th item in dataset order.
func (d *Dataset) At(i int) Item { return d.items[i].clone() }

// All iterates copies of the items in dataset order.
func (d *Dataset) All() iter.Seq2[int, Item] {
	return func(yield func(int, Item) bool) {
		for i, it := range d.items {
			if !yield(i, it.clone()) {
				return
			}
		}
	}
}

// FindSuffix returns the first item for which MatchesSuffix(q) holds.
func (d *Dataset) FindSuffix(q string) (int, Item, bool) {
	for i := range d.items {
		if d.items[i].MatchesSuffix(q) {
			return i, d.items[i].clone(), true
		}
	}
	return -1, Item{}, false
}

// FetchedAt is the time the underlying data was fetched from its source.
// Restoring from cache keeps the original fetch time.
func (d *Dataset) FetchedAt() time.Time { return d.fetchedAt }

// Source reports whether the dataset came from the cache or a live fetch.
func (d *Dataset) Source() Source { return d.source }

// WithSource returns a copy of d tagged with another source.
func (d *Dataset) WithSource(s Source) *Dataset {
	return &Dataset{items: d.items, fetchedAt: d.fetchedAt, source: s}
}

// CacheEntry is the persisted form of a dataset.
type CacheEntry struct {
	Dataset  *Dataset
	StoredAt time.Time
}
