package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

const duplicateFPR = 0.001

// Duplicate is a barcode carried by more than one item. Lookups always
// resolve to the first item, so every later one is shadowed for that code.
type Duplicate struct {
	Barcode string // lowercase form used for matching
	Items   []int  // dataset positions, ascending
}

// DuplicateBarcodes finds barcodes shared between different items.
//
// Pass 1 feeds every barcode through a bloom filter and keeps the ones it
// has probably seen before; pass 2 confirms those candidates exactly.
// Repeats inside a single item are not reported.
func DuplicateBarcodes(ds *Dataset) []Duplicate {
	total := 0
	for _, it := range ds.items {
		total += len(it.searchBarcodes)
	}
	if total == 0 {
		return nil
	}

	filter := bloom.NewWithEstimates(uint(total), duplicateFPR)
	candidates := make(map[string]struct{})
	for _, it := range ds.items {
		for _, b := range uniqueLower(it.searchBarcodes) {
			if filter.TestAndAddString(b) {
				candidates[b] = struct{}{}
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	owners := make(map[string][]int, len(candidates))
	for i, it := range ds.items {
		for _, b := range uniqueLower(it.searchBarcodes) {
			if _, ok := candidates[b]; ok {
				owners[b] = append(owners[b], i)
			}
		}
	}

	var dups []Duplicate
	for b, idx := range owners {
		if len(idx) > 1 {
			dups = append(dups, Duplicate{Barcode: b, Items: idx})
		}
	}
	sortDuplicates(dups)
	return dups
}

func uniqueLower(codes []string) []string {
	if len(codes) < 2 {
		return codes
	}
	seen := make(map[string]struct{}, len(codes))
	out := codes[:0:0]
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// sortDuplicates orders by first owner, then barcode, so reports are stable.
func sortDuplicates(d []Duplicate) {
	slices.SortFunc(d, func(a, b Duplicate) int {
		if c := cmp.Compare(a.Items[0], b.Items[0]); c != 0 {
			return c
		}
		return strings.Compare(a.Barcode, b.Barcode)
	})
}
