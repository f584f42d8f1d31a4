package fetch

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/go-faster/errors"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// headerTokens maps recognizable header cells to the column they name.
var headerTokens = map[string]int{
	"sku":          colSKU,
	"item code":    colSKU,
	"article":      colSKU,
	"name":         colName,
	"product":      colName,
	"product name": colName,
	"description":  colName,
	"barcode":      colBarcode,
	"barcodes":     colBarcode,
	"ean":          colBarcode,
	"upc":          colBarcode,
	"gtin":         colBarcode,
	"category":     colCategory,
}

// ParseCSV reads a CSV export with columns sku, name, barcode[, category].
// A first row made of recognizable column names is treated as a header and
// may reorder the columns; otherwise columns are positional.
func ParseCSV(r io.Reader) ([]catalog.RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := []int{colSKU, colName, colBarcode, colCategory}
	if h, ok := detectHeader(records[0]); ok {
		cols = h
		records = records[1:]
	}

	rows := make([]catalog.RawRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, catalog.RawRow{
			SKU:      fieldAt(rec, cols[colSKU]),
			Name:     fieldAt(rec, cols[colName]),
			Barcode:  fieldAt(rec, cols[colBarcode]),
			Category: fieldAt(rec, cols[colCategory]),
		})
	}
	return rows, nil
}

// detectHeader returns, for each logical column, the index of the record
// field holding it (-1 when absent).
func detectHeader(rec []string) ([]int, bool) {
	cols := []int{-1, -1, -1, -1}
	found := false
	for i, cell := range rec {
		col, ok := headerTokens[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))]
		if !ok || cols[col] >= 0 {
			continue
		}
		cols[col] = i
		found = true
	}
	return cols, found
}

func fieldAt(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}
