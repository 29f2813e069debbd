// Package fixedwidth turns fixed-width text rows into typed records.
//
// A config.Stream is compiled once into a Stream: the filename pattern,
// text encoding and every record layout (with its date formats translated
// to Go layouts) are resolved up front so per-row work is slicing and
// coercion only.
package fixedwidth

import (
	"fmt"
	"io"
	"regexp"

	"github.com/ncruces/go-strftime"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"schevo/internal/config"
	"schevo/internal/naming"
)

// Stream is a compiled config.Stream.
type Stream struct {
	Name  string
	Clean bool

	// Pattern matches file names at their start.
	Pattern *regexp.Regexp

	// Encoding is nil for UTF-8 input.
	Encoding encoding.Encoding

	codeBegin, codeEnd int
	layouts            []*Layout
	byCode             map[string]*Layout
}

// Layout is the compiled field list of one record code.
type Layout struct {
	Code   string
	Fields []Field
}

// Field is a compiled config.Field.
type Field struct {
	// Name is the normalized column name.
	Name string
	Spec config.Field

	typ      config.FieldType
	goLayout string // temporal types
	exp      int32  // decimal: -scale
}

// Type returns the effective field type.
func (f Field) Type() config.FieldType { return f.typ }

// Compile validates and prepares s for decoding.
func Compile(s config.Stream) (*Stream, error) {
	out := &Stream{
		Name:      s.Name,
		Clean:     s.Clean,
		codeBegin: s.RecordCode.Begin,
		codeEnd:   s.RecordCode.End,
		byCode:    make(map[string]*Layout, len(s.Records)),
	}
	if s.RecordCode.Begin < 1 || s.RecordCode.End < s.RecordCode.Begin {
		return nil, fmt.Errorf("stream %s: invalid record_code span %s", s.Name, s.RecordCode)
	}
	if s.Filename != "" {
		re, err := regexp.Compile("^(?:" + s.Filename + ")")
		if err != nil {
			return nil, fmt.Errorf("stream %s: filename: %w", s.Name, err)
		}
		out.Pattern = re
	}
	enc, err := LookupEncoding(s.Encoding)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", s.Name, err)
	}
	out.Encoding = enc

	for _, r := range s.Records {
		l, err := compileLayout(r)
		if err != nil {
			return nil, fmt.Errorf("stream %s: record %s: %w", s.Name, r.Code, err)
		}
		if _, dup := out.byCode[r.Code]; dup {
			return nil, fmt.Errorf("stream %s: record %s declared twice", s.Name, r.Code)
		}
		out.byCode[r.Code] = l
		out.layouts = append(out.layouts, l)
	}
	return out, nil
}

func compileLayout(r config.Record) (*Layout, error) {
	l := &Layout{Code: r.Code, Fields: make([]Field, 0, len(r.Fields))}
	for _, f := range r.Fields {
		if f.Begin < 1 || f.End < f.Begin {
			return nil, fmt.Errorf("field %s: invalid span %s", f.Name, f.Span())
		}
		cf := Field{Name: naming.Normalize(f.Name), Spec: f, typ: f.EffectiveType()}
		switch {
		case cf.typ == config.TypeString, cf.typ == config.TypeInteger:
		case cf.typ == config.TypeDecimal:
			scale, err := f.Scale()
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			cf.exp = -int32(scale)
		case cf.typ.Temporal():
			layout, err := strftime.Layout(f.EffectiveFormat())
			if err != nil {
				return nil, fmt.Errorf("field %s: format %q: %w", f.Name, f.EffectiveFormat(), err)
			}
			cf.goLayout = layout
		default:
			return nil, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
		}
		l.Fields = append(l.Fields, cf)
	}
	return l, nil
}

// Layouts returns the record layouts in declaration order.
func (s *Stream) Layouts() []*Layout { return s.layouts }

// Layout returns the layout of a record code.
func (s *Stream) Layout(code string) (*Layout, bool) {
	l, ok := s.byCode[code]
	return l, ok
}

// Matches reports whether a file name belongs to the stream.
func (s *Stream) Matches(name string) bool {
	return s.Pattern != nil && s.Pattern.MatchString(name)
}

// Classify extracts the record code of row and returns its layout. ok is
// false for rows whose code has no layout; those rows are skipped.
func (s *Stream) Classify(row string) (l *Layout, code string, ok bool) {
	code = slice(trimEOL(row), s.codeBegin, s.codeEnd)
	l, ok = s.byCode[code]
	return l, code, ok
}

// NewReader wraps r so it yields UTF-8 text.
func (s *Stream) NewReader(r io.Reader) io.Reader {
	if s.Encoding == nil {
		return r
	}
	return transform.NewReader(r, s.Encoding.NewDecoder())
}
