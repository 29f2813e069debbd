package fixedwidth

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"schevo/internal/config"
)

// Column is one named value of a decoded record.
type Column struct {
	Name  string
	Value Value
}

// Record is a decoded row, columns in layout order.
type Record struct {
	Code    string
	Columns []Column
}

// Values returns the column values as placeholder arguments.
func (r Record) Values() []any {
	out := make([]any, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.Value.SQLValue()
	}
	return out
}

var (
	errInteger = errors.New("not an integer")
	errDecimal = errors.New("not a decimal")
)

// DecodeError reports a field whose text could not be coerced to its type.
type DecodeError struct {
	Field string
	Type  config.FieldType
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("field %s (%s): cannot decode %q: %v", e.Field, e.Type, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode slices row by the layout and coerces each field. The same row
// always decodes to the same record.
func (l *Layout) Decode(row string) (Record, error) {
	row = trimEOL(row)
	rec := Record{Code: l.Code, Columns: make([]Column, len(l.Fields))}
	for i := range l.Fields {
		f := &l.Fields[i]
		text := strings.TrimSpace(slice(row, f.Spec.Begin, f.Spec.End))
		v, err := f.decode(text)
		if err != nil {
			return Record{}, &DecodeError{Field: f.Name, Type: f.typ, Value: text, Err: err}
		}
		rec.Columns[i] = Column{Name: f.Name, Value: v}
	}
	return rec, nil
}

func (f *Field) decode(s string) (Value, error) {
	if f.typ.Temporal() && strings.Trim(s, "0") == "" {
		return Null, nil
	}
	if s == "" {
		return Null, nil
	}
	switch f.typ {
	case config.TypeString:
		return StringValue(s), nil
	case config.TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Null, fmt.Errorf("%w: %w", errInteger, err)
		}
		return IntegerValue(n), nil
	case config.TypeDecimal:
		return parseDecimal(s, f.exp)
	case config.TypeDate:
		t, err := time.Parse(f.goLayout, s)
		if err != nil {
			return Null, err
		}
		return DateValue(t), nil
	case config.TypeTime:
		t, err := time.Parse(f.goLayout, s)
		if err != nil {
			return Null, err
		}
		return TimeValue(t), nil
	case config.TypeDatetime:
		t, err := time.Parse(f.goLayout, s)
		if err != nil {
			return Null, err
		}
		return DatetimeValue(t), nil
	}
	return Null, fmt.Errorf("unknown type %q", f.typ)
}

// parseDecimal reads [+-]digits[.digits] and scales it by 10^exp.
func parseDecimal(s string, exp int32) (Value, error) {
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	digits := whole + frac
	if digits == "" {
		return Null, errDecimal
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Null, errDecimal
		}
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Null, errDecimal
	}
	if neg {
		n.Neg(n)
	}
	return DecimalValue(n, exp-int32(len(frac))), nil
}

func trimEOL(row string) string {
	row = strings.TrimSuffix(row, "\n")
	return strings.TrimSuffix(row, "\r")
}

// slice returns the characters at 1-based inclusive positions [begin,end],
// clamped to the row.
func slice(row string, begin, end int) string {
	if begin < 1 {
		begin = 1
	}
	if end < begin {
		return ""
	}
	if isASCII(row) {
		if begin > len(row) {
			return ""
		}
		return row[begin-1 : min(end, len(row))]
	}
	start, stop, pos := -1, len(row), 0
	for i := range row {
		pos++
		if pos == begin {
			start = i
		}
		if pos == end+1 {
			stop = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	return row[start:stop]
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
