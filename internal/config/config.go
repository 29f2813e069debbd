// Package config defines the catalog model for schevo: the declarative
// description of every fixed-width stream, its record codes and their field
// layouts. Catalogs are loaded from JSON or YAML and passed through the
// program as plain values.
//
// Example (trimmed):
//
//	{
//	  "invoices": {
//	    "filename": "^INV_\\d{8}\\.txt$",
//	    "encoding": "latin-1",
//	    "clean": false,
//	    "record_code": [1, 2],
//	    "records": {
//	      "H1": {
//	        "invoice_no": { "begin": 3, "end": 12 },
//	        "issued":     { "begin": 13, "end": 20, "type": "date" },
//	        "amount":     { "begin": 21, "end": 32, "type": "decimal", "format": "e-2" }
//	      }
//	    }
//	  }
//	}
//
// The order of streams, record codes and fields is the document order. Field
// order drives column order, so decoding never goes through a Go map.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType is the semantic type of a fixed-width field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeDecimal  FieldType = "decimal"
	TypeDate     FieldType = "date"
	TypeTime     FieldType = "time"
	TypeDatetime FieldType = "datetime"
)

// Default formats per type. Date/time formats use strftime directives.
const (
	DefaultDecimalFormat  = "e-2"
	DefaultDateFormat     = "%Y%m%d"
	DefaultTimeFormat     = "%H%M%S"
	DefaultDatetimeFormat = "%Y%m%d%H%M%S"
)

// Known reports whether t is one of the supported field types.
func (t FieldType) Known() bool {
	switch t {
	case TypeString, TypeInteger, TypeDecimal, TypeDate, TypeTime, TypeDatetime:
		return true
	}
	return false
}

// Temporal reports whether t is date, time or datetime.
func (t FieldType) Temporal() bool {
	return t == TypeDate || t == TypeTime || t == TypeDatetime
}

// Catalog is the decoded configuration document: every declared stream in
// document order.
type Catalog struct {
	Streams []Stream
}

// Stream returns the stream declared under name.
func (c Catalog) Stream(name string) (Stream, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// Stream describes one logical dataset.
type Stream struct {
	// Name is the key the stream is declared under.
	Name string

	// Filename is a regular expression matched against the start of input
	// file names. Streams without one are never matched to files.
	Filename string

	// Encoding is the text encoding of input files; empty means UTF-8.
	Encoding string

	// Clean removes each input file once it has been fully split into chunks.
	Clean bool

	// RecordCode is the 1-based inclusive position of the record code.
	RecordCode Span

	// Records maps record codes to layouts, in document order.
	Records []Record
}

// Record returns the layout declared for code.
func (s Stream) Record(code string) (Record, bool) {
	for _, r := range s.Records {
		if r.Code == code {
			return r, true
		}
	}
	return Record{}, false
}

// Span is a 1-based inclusive character range.
type Span struct {
	Begin int
	End   int
}

// Width is End-Begin+1.
func (s Span) Width() int { return s.End - s.Begin + 1 }

func (s Span) String() string { return fmt.Sprintf("[%d,%d]", s.Begin, s.End) }

// Record is the field layout selected by one record code.
type Record struct {
	Code   string
	Fields []Field
}

// Field is one positioned, typed column definition.
type Field struct {
	// Name is the label as written in the catalog (not yet normalized).
	Name string

	Begin int
	End   int

	// Type defaults to TypeString when omitted.
	Type FieldType

	// Format is a strftime pattern for temporal types, or the decimal scale
	// marker ("e-2") for decimals. Empty means the type default.
	Format string
}

// Span returns the field position as a Span.
func (f Field) Span() Span { return Span{Begin: f.Begin, End: f.End} }

// Width is the number of characters the field occupies.
func (f Field) Width() int { return f.End - f.Begin + 1 }

// EffectiveType returns Type, defaulting to TypeString.
func (f Field) EffectiveType() FieldType {
	if f.Type == "" {
		return TypeString
	}
	return f.Type
}

// EffectiveFormat returns Format or the default for the field type.
func (f Field) EffectiveFormat() string {
	if f.Format != "" {
		return f.Format
	}
	switch f.EffectiveType() {
	case TypeDecimal:
		return DefaultDecimalFormat
	case TypeDate:
		return DefaultDateFormat
	case TypeTime:
		return DefaultTimeFormat
	case TypeDatetime:
		return DefaultDatetimeFormat
	}
	return ""
}

// Scale returns the number of implied decimal places of a decimal field,
// read from its "e-<n>" format.
func (f Field) Scale() (int, error) {
	return ParseScale(f.EffectiveFormat())
}

// ParseScale parses a decimal scale marker of the form "e-<n>".
func ParseScale(format string) (int, error) {
	digits, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(format)), "e-")
	if !ok {
		return 0, fmt.Errorf("decimal format %q: want e-<n>", format)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("decimal format %q: want e-<n>", format)
	}
	return n, nil
}
