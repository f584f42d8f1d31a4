package catalog

import (
	"iter"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// entryVersion is bumped whenever the persisted layout changes. Entries
// written with another version are treated as corrupt and refetched.
const entryVersion = 1

// ErrCorruptEntry is returned when a persisted cache entry cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// EncodeEntry serializes a dataset and its store time into one JSON document.
func EncodeEntry(ds *Dataset, storedAt time.Time) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("version", func(e *jx.Encoder) { e.Int(entryVersion) })
		e.Field("stored_at", func(e *jx.Encoder) { e.Str(storedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("fetched_at", func(e *jx.Encoder) { e.Str(ds.FetchedAt().UTC().Format(time.RFC3339Nano)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range ds.All() {
					EncodeItem(e, it)
				}
			})
		})
	})
	return e.Bytes()
}

// EncodeRows writes items as a bare JSON array of row objects, the format
// shard files and the rows endpoint share.
func EncodeRows(e *jx.Encoder, items iter.Seq2[int, Item]) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			EncodeItem(e, it)
		}
	})
}

// EncodeItem writes one row object.
func EncodeItem(e *jx.Encoder, it Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("barcodes", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, b := range it.Barcodes {
					e.Str(b)
				}
			})
		})
		if it.Category != "" {
			e.Field("category", func(e *jx.Encoder) { e.Str(it.Category) })
		}
	})
}

// DecodeEntry parses a document produced by EncodeEntry. The returned
// dataset is tagged SourceCache. Any shape problem yields ErrCorruptEntry.
func DecodeEntry(data []byte) (*CacheEntry, error) {
	var (
		version   int
		storedAt  time.Time
		fetchedAt time.Time
		items     []Item
		seenItems bool
	)

	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "version":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "version")
			}
			version = v
		case "stored_at":
			t, err := decodeTime(d)
			if err != nil {
				return errors.Wrap(err, "stored_at")
			}
			storedAt = t
		case "fetched_at":
			t, err := decodeTime(d)
			if err != nil {
				return errors.Wrap(err, "fetched_at")
			}
			fetchedAt = t
		case "items":
			seenItems = true
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				if err != nil {
					return errors.Wrapf(err, "item %d", len(items))
				}
				items = append(items, it)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptEntry, "decode: %s", err)
	}
	if version != entryVersion {
		return nil, errors.Wrapf(ErrCorruptEntry, "unsupported version %d", version)
	}
	if !seenItems || len(items) == 0 || storedAt.IsZero() {
		return nil, errors.Wrap(ErrCorruptEntry, "missing fields")
	}

	return &CacheEntry{
		Dataset:  NewDataset(items, fetchedAt, SourceCache),
		StoredAt: storedAt,
	}, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decodeItem(d *jx.Decoder) (Item, error) {
	var (
		sku, name, category string
		barcodes            []string
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "sku":
			sku, err = d.Str()
		case "name":
			name, err = d.Str()
		case "category":
			category, err = d.Str()
		case "barcodes":
			err = d.Arr(func(d *jx.Decoder) error {
				b, err := d.Str()
				if err != nil {
					return err
				}
				barcodes = append(barcodes, b)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return NewItem(sku, name, barcodes, category), nil
}
