package fixedwidth

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindDecimal
	KindDate
	KindTime
	KindDatetime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindDatetime:
		return "datetime"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one decoded field. Only the member matching Kind is meaningful.
type Value struct {
	Kind Kind

	Str  string
	Int  int64
	Dec  pgtype.Numeric
	Time time.Time // date, datetime, and time (on 0000-01-01)
}

// Null is the absent value.
var Null = Value{}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntegerValue(n int64) Value { return Value{Kind: KindInteger, Int: n} }

// DecimalValue builds the decimal unscaled*10^exp.
func DecimalValue(unscaled *big.Int, exp int32) Value {
	return Value{Kind: KindDecimal, Dec: pgtype.Numeric{Int: unscaled, Exp: exp, Valid: true}}
}

func DateValue(t time.Time) Value     { return Value{Kind: KindDate, Time: t} }
func TimeValue(t time.Time) Value     { return Value{Kind: KindTime, Time: t} }
func DatetimeValue(t time.Time) Value { return Value{Kind: KindDatetime, Time: t} }

// IsNull reports whether v carries no value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// SQLValue returns v as an argument for a positional placeholder.
// Times of day are sent as pgtype.Time so both drivers bind them to TIME.
func (v Value) SQLValue() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInteger:
		return v.Int
	case KindDecimal:
		return v.Dec
	case KindDate, KindDatetime:
		return v.Time
	case KindTime:
		return pgtype.Time{Microseconds: sinceMidnight(v.Time).Microseconds(), Valid: true}
	}
	return nil
}

// Float returns the decimal as a float64, for consumers without an exact
// decimal type (spreadsheets).
func (v Value) Float() float64 {
	if v.Kind != KindDecimal || v.Dec.Int == nil {
		return 0
	}
	f, err := v.Dec.Float64Value()
	if err != nil {
		return 0
	}
	return f.Float64
}

// String renders v for logs and text sinks.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInteger:
		return fmt.Sprint(v.Int)
	case KindDecimal:
		return decimalString(v.Dec)
	case KindDate:
		return v.Time.Format(time.DateOnly)
	case KindTime:
		return v.Time.Format(time.TimeOnly)
	case KindDatetime:
		return v.Time.Format(time.DateTime)
	}
	return ""
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// decimalString formats n without going through float64.
func decimalString(n pgtype.Numeric) string {
	if n.Int == nil {
		return ""
	}
	digits := new(big.Int).Abs(n.Int).String()
	sign := ""
	if n.Int.Sign() < 0 {
		sign = "-"
	}
	if n.Exp >= 0 {
		return sign + digits + strings.Repeat("0", int(n.Exp))
	}
	scale := int(-n.Exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	cut := len(digits) - scale
	return sign + digits[:cut] + "." + digits[cut:]
}
