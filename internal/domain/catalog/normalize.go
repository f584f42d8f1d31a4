package catalog

import "strings"

// RawRow is one row as it comes out of a source parser. Parsers map
// missing and null cells to "" so that normalization never has to guess.
type RawRow struct {
	SKU      string
	Name     string
	Barcode  string // comma-separated
	Category string
}

// Normalize turns a raw row into an Item. It never fails: malformed
// fields degrade to empty values so one bad row cannot abort a load.
func Normalize(r RawRow) Item {
	return NewItem(
		strings.TrimSpace(r.SKU),
		strings.TrimSpace(r.Name),
		SplitBarcodes(r.Barcode),
		strings.TrimSpace(r.Category),
	)
}

// SplitBarcodes splits a comma-separated barcode field, trims every piece
// and drops empty ones. Order and duplicates are preserved.
func SplitBarcodes(field string) []string {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IsBlank reports whether a row carries nothing searchable or displayable.
// Spreadsheet exports often end with such rows.
func IsBlank(r RawRow) bool {
	return strings.TrimSpace(r.SKU) == "" &&
		strings.TrimSpace(r.Name) == "" &&
		len(SplitBarcodes(r.Barcode)) == 0
}

// NormalizeAll normalizes rows in order, skipping blank ones.
func NormalizeAll(rows []RawRow) []Item {
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		if IsBlank(r) {
			continue
		}
		items = append(items, Normalize(r))
	}
	return items
}
