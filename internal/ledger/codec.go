package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/handiism/mediadl/internal/model"
)

// fileVersion is written into every JSON ledger file.
const fileVersion = 1

// field describes how one JSON member maps onto a struct of type T. A
// required field is always encoded, even when it holds the zero value, so
// every entry that encodes also decodes.
type field[T any] struct {
	name     string
	required bool
	encode   func(*T) (any, bool)
	decode   func(*T, json.RawMessage) error
}

func stringField[T any](name string, required bool, p func(*T) *string) field[T] {
	return field[T]{
		name:     name,
		required: required,
		encode:   func(v *T) (any, bool) { s := *p(v); return s, required || s != "" },
		decode:   func(v *T, raw json.RawMessage) error { return json.Unmarshal(raw, p(v)) },
	}
}

func int64Field[T any](name string, p func(*T) *int64) field[T] {
	return field[T]{
		name:   name,
		encode: func(v *T) (any, bool) { n := *p(v); return n, n != 0 },
		decode: func(v *T, raw json.RawMessage) error { return json.Unmarshal(raw, p(v)) },
	}
}

func intField[T any](name string, p func(*T) *int) field[T] {
	return field[T]{
		name:   name,
		encode: func(v *T) (any, bool) { n := *p(v); return n, n != 0 },
		decode: func(v *T, raw json.RawMessage) error { return json.Unmarshal(raw, p(v)) },
	}
}

func floatField[T any](name string, p func(*T) *float64) field[T] {
	return field[T]{
		name:   name,
		encode: func(v *T) (any, bool) { f := *p(v); return f, f != 0 },
		decode: func(v *T, raw json.RawMessage) error { return json.Unmarshal(raw, p(v)) },
	}
}

func boolField[T any](name string, p func(*T) *bool) field[T] {
	return field[T]{
		name:   name,
		encode: func(v *T) (any, bool) { b := *p(v); return b, b },
		decode: func(v *T, raw json.RawMessage) error { return json.Unmarshal(raw, p(v)) },
	}
}

func encodeObject[T any](v *T, fields []field[T]) map[string]any {
	obj := make(map[string]any, len(fields))
	for _, f := range fields {
		if val, ok := f.encode(v); ok {
			obj[f.name] = val
		}
	}
	return obj
}

func decodeObject[T any](raw json.RawMessage, fields []field[T]) (T, error) {
	var v T
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return v, err
	}
	if obj == nil {
		return v, errors.New("not an object")
	}
	for _, f := range fields {
		member, ok := obj[f.name]
		if !ok || string(member) == "null" {
			if f.required {
				return v, fmt.Errorf("field %q: missing", f.name)
			}
			continue
		}
		if err := f.decode(&v, member); err != nil {
			return v, fmt.Errorf("field %q: %w", f.name, err)
		}
	}
	return v, nil
}

var formatFields = []field[model.Format]{
	stringField("format_id", false, func(f *model.Format) *string { return &f.ID }),
	stringField("url", true, func(f *model.Format) *string { return &f.URL }),
	{
		name: "http_headers",
		encode: func(f *model.Format) (any, bool) {
			return f.Header, len(f.Header) > 0
		},
		decode: func(f *model.Format, raw json.RawMessage) error {
			return json.Unmarshal(raw, &f.Header)
		},
	},
	int64Field("filesize", func(f *model.Format) *int64 { return &f.Size }),
	stringField("ext", false, func(f *model.Format) *string { return &f.Ext }),
	stringField("vcodec", false, func(f *model.Format) *string { return &f.VCodec }),
	stringField("acodec", false, func(f *model.Format) *string { return &f.ACodec }),
	intField("height", func(f *model.Format) *int { return &f.Height }),
	floatField("tbr", func(f *model.Format) *float64 { return &f.BitRate }),
	{
		name:     "kind",
		required: true,
		encode:   func(f *model.Format) (any, bool) { return f.Kind.String(), true },
		decode: func(f *model.Format, raw json.RawMessage) error {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			kind, ok := model.ParseKind(s)
			if !ok {
				return fmt.Errorf("unknown kind %q", s)
			}
			f.Kind = kind
			return nil
		},
	},
}

var optionFields = []field[model.Options]{
	boolField("chunked", func(o *model.Options) *bool { return &o.Chunked }),
	boolField("background", func(o *model.Options) *bool { return &o.Background }),
	int64Field("chunk_size", func(o *model.Options) *int64 { return &o.ChunkSize }),
}

func durationField[T any](name string, p func(*T) *time.Duration) field[T] {
	return field[T]{
		name:     name,
		required: true,
		encode:   func(v *T) (any, bool) { return int64(*p(v)), true },
		decode: func(v *T, raw json.RawMessage) error {
			var ns int64
			if err := json.Unmarshal(raw, &ns); err != nil {
				return err
			}
			*p(v) = time.Duration(ns)
			return nil
		},
	}
}

// Trim bounds are stored in nanoseconds, the resolution of time.Duration.
var timeRangeFields = []field[model.TimeRange]{
	durationField("start_ns", func(r *model.TimeRange) *time.Duration { return &r.Start }),
	durationField("end_ns", func(r *model.TimeRange) *time.Duration { return &r.End }),
}

var downloadFields = []field[model.Download]{
	stringField("id", true, func(d *model.Download) *string { return &d.ID }),
	stringField("source_url", false, func(d *model.Download) *string { return &d.SourceURL }),
	stringField("title", true, func(d *model.Download) *string { return &d.Title }),
	stringField("artist", false, func(d *model.Download) *string { return &d.Artist }),
	stringField("thumbnail_url", false, func(d *model.Download) *string { return &d.ThumbnailURL }),
	stringField("album", false, func(d *model.Download) *string { return &d.Album }),
	intField("track_number", func(d *model.Download) *int { return &d.TrackNumber }),
	intField("year", func(d *model.Download) *int { return &d.Year }),
	stringField("lyrics", false, func(d *model.Download) *string { return &d.Lyrics }),
	stringField("directory", true, func(d *model.Download) *string { return &d.Directory }),
	{
		name: "formats",
		encode: func(d *model.Download) (any, bool) {
			if d.Formats == nil {
				return nil, false
			}
			out := make([]map[string]any, len(d.Formats))
			for i := range d.Formats {
				out[i] = encodeObject(&d.Formats[i], formatFields)
			}
			return out, true
		},
		decode: func(d *model.Download, raw json.RawMessage) error {
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return err
			}
			d.Formats = make([]model.Format, 0, len(items))
			for i, item := range items {
				f, err := decodeObject(item, formatFields)
				if err != nil {
					return fmt.Errorf("format %d: %w", i, err)
				}
				d.Formats = append(d.Formats, f)
			}
			return nil
		},
	},
	{
		name:   "options",
		encode: func(d *model.Download) (any, bool) { return encodeObject(&d.Options, optionFields), true },
		decode: func(d *model.Download, raw json.RawMessage) error {
			o, err := decodeObject(raw, optionFields)
			d.Options = o
			return err
		},
	},
	{
		name: "time_range",
		encode: func(d *model.Download) (any, bool) {
			if d.TimeRange == nil {
				return nil, false
			}
			return encodeObject(d.TimeRange, timeRangeFields), true
		},
		decode: func(d *model.Download, raw json.RawMessage) error {
			r, err := decodeObject(raw, timeRangeFields)
			if err != nil {
				return err
			}
			d.TimeRange = &r
			return nil
		},
	},
	floatField("bit_rate", func(d *model.Download) *float64 { return &d.BitRate }),
	boolField("transcode_pending", func(d *model.Download) *bool { return &d.TranscodePending }),
	{
		name: "created_at",
		encode: func(d *model.Download) (any, bool) {
			return d.CreatedAt.Format(time.RFC3339Nano), !d.CreatedAt.IsZero()
		},
		decode: func(d *model.Download, raw json.RawMessage) error {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			d.CreatedAt = t
			return err
		},
	},
}

// EncodeDownload returns the JSON encoding of one ledger entry.
func EncodeDownload(d *model.Download) ([]byte, error) {
	return json.Marshal(encodeObject(d, downloadFields))
}

// DecodeDownload decodes one ledger entry.
func DecodeDownload(raw []byte) (*model.Download, error) {
	d, err := decodeObject(json.RawMessage(raw), downloadFields)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// encodeFile returns the JSON ledger file for entries.
func encodeFile(entries []*model.Download) ([]byte, error) {
	items := make([]map[string]any, len(entries))
	for i, d := range entries {
		items[i] = encodeObject(d, downloadFields)
	}
	return json.MarshalIndent(map[string]any{
		"version":   fileVersion,
		"downloads": items,
	}, "", "  ")
}

// decodeFile parses a JSON ledger file. It accepts the versioned object
// form and a bare array of entries. Entries that fail to decode are
// returned as errors alongside the entries that did.
func decodeFile(data []byte) ([]*model.Download, []error, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var file struct {
			Version   int               `json:"version"`
			Downloads []json.RawMessage `json:"downloads"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, nil, err
		}
		if file.Version > fileVersion {
			return nil, nil, fmt.Errorf("unsupported ledger version %d", file.Version)
		}
		items = file.Downloads
	}

	entries := make([]*model.Download, 0, len(items))
	var bad []error
	for i, item := range items {
		d, err := DecodeDownload(item)
		if err != nil {
			bad = append(bad, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		entries = append(entries, d)
	}
	return entries, bad, nil
}
