package fetch

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
)

// Column order of a table export.
const (
	colSKU = iota
	colName
	colBarcode
	colCategory
)

// ParseTable extracts rows from a wrapped table payload such as
//
//	/*O_o*/
//	google.visualization.Query.setResponse({"status":"ok","table":{...}});
//
// The wrapper length is not stable, so the JSON object is located by the
// first '{' and the last '}' instead of fixed offsets.
func ParseTable(payload []byte) ([]catalog.RawRow, error) {
	start := bytes.IndexByte(payload, '{')
	end := bytes.LastIndexByte(payload, '}')
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in payload")
	}

	var (
		rows    []catalog.RawRow
		status  string
		reason  string
		hasRows bool
	)
	d := jx.DecodeBytes(payload[start : end+1])
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "status")
			}
			status = s
		case "errors":
			r, err := decodeReason(d)
			if err != nil {
				return errors.Wrap(err, "errors")
			}
			reason = r
		case "table":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "rows" {
					return d.Skip()
				}
				hasRows = true
				return d.Arr(func(d *jx.Decoder) error {
					row, ok, err := decodeTableRow(d)
					if err != nil {
						return errors.Wrapf(err, "row %d", len(rows))
					}
					if ok {
						rows = append(rows, row)
					}
					return nil
				})
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode table")
	}
	if status == "error" {
		if reason == "" {
			reason = "unknown reason"
		}
		return nil, errors.Errorf("source reported error: %s", reason)
	}
	if !hasRows {
		return nil, errors.New("missing table.rows")
	}
	return rows, nil
}

// decodeReason returns the first human-readable message of an errors array.
func decodeReason(d *jx.Decoder) (string, error) {
	var reason string
	err := d.Arr(func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "detailed_message", "message", "reason":
				s, err := d.Str()
				if err != nil {
					return err
				}
				if reason == "" {
					reason = s
				}
				return nil
			default:
				return d.Skip()
			}
		})
	})
	return reason, err
}

// decodeTableRow reads {"c":[{"v":...},null,...]}. A null row is skipped.
func decodeTableRow(d *jx.Decoder) (catalog.RawRow, bool, error) {
	if d.Next() == jx.Null {
		return catalog.RawRow{}, false, d.Null()
	}

	var cells []string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "c" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			v, err := decodeCell(d)
			if err != nil {
				return err
			}
			cells = append(cells, v)
			return nil
		})
	})
	if err != nil {
		return catalog.RawRow{}, false, err
	}

	return catalog.RawRow{
		SKU:      cellAt(cells, colSKU),
		Name:     cellAt(cells, colName),
		Barcode:  cellAt(cells, colBarcode),
		Category: cellAt(cells, colCategory),
	}, true, nil
}

func decodeCell(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	var v string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "v" {
			return d.Skip()
		}
		s, err := decodeLoose(d)
		v = s
		return err
	})
	return v, err
}

func cellAt(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// ParseRowArray decodes a bare JSON array of row objects, the format of
// shard files and of the backend API.
func ParseRowArray(data []byte) ([]catalog.RawRow, error) {
	d := jx.DecodeBytes(data)
	if tt := d.Next(); tt != jx.Array {
		return nil, errors.Errorf("expected JSON array, got %s", tt)
	}

	var rows []catalog.RawRow
	err := d.Arr(func(d *jx.Decoder) error {
		switch d.Next() {
		case jx.Null:
			return d.Null()
		case jx.Object:
		default:
			return errors.Errorf("row %d: expected object", len(rows))
		}
		row, err := decodeRowObject(d)
		if err != nil {
			return errors.Wrapf(err, "row %d", len(rows))
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode rows")
	}
	return rows, nil
}

func decodeRowObject(d *jx.Decoder) (catalog.RawRow, error) {
	var row catalog.RawRow
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch strings.ToLower(key) {
		case "sku":
			dst = &row.SKU
		case "name":
			dst = &row.Name
		case "barcode", "barcodes":
			dst = &row.Barcode
		case "category":
			dst = &row.Category
		default:
			return d.Skip()
		}
		s, err := decodeLoose(d)
		*dst = s
		return err
	})
	return row, err
}

// decodeLoose reads any JSON value as text: strings as-is, numbers in
// their shortest decimal form, null as "", arrays joined with commas.
// Objects carry no usable text and become "".
func decodeLoose(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return formatNumber(string(n)), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case jx.Null:
		return "", d.Null()
	case jx.Array:
		var parts []string
		err := d.Arr(func(d *jx.Decoder) error {
			s, err := decodeLoose(d)
			if err != nil {
				return err
			}
			parts = append(parts, s)
			return nil
		})
		return strings.Join(parts, ","), err
	default:
		return "", d.Skip()
	}
}

// formatNumber renders spreadsheet numbers without exponent or trailing
// ".0", so a barcode stored as a number still reads as its digits.
func formatNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
