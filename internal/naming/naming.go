// Package naming turns free-form stream, record-code and field labels into
// identifiers that are safe to use unquoted as Postgres table and column
// names.
package naming

import "strings"

// DigitPrefix is prepended to identifiers that would otherwise start with a
// digit.
const DigitPrefix = "c_"

// Normalize lowercases raw, collapses every run of characters outside
// [a-z0-9] into a single underscore, trims leading and trailing underscores
// and prefixes DigitPrefix when the result starts with a digit.
//
// The result always matches ^[a-z0-9_]+$, never starts with a digit and is a
// fixed point of Normalize. A label with no usable characters at all ("",
// "---") normalizes to "c".
//
//	Normalize("Record Type")  => "record_type"
//	Normalize("01-Header")    => "c_01_header"
//	Normalize("__Amount (€)") => "amount"
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + len(DigitPrefix))

	pendingSep := false
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	out := b.String()
	switch {
	case out == "":
		return strings.TrimSuffix(DigitPrefix, "_")
	case out[0] >= '0' && out[0] <= '9':
		return DigitPrefix + out
	}
	return out
}

// TableName returns the table identifier for one record code of a stream,
// i.e. Normalize("<stream>_<code>").
func TableName(stream, recordCode string) string {
	return Normalize(stream + "_" + recordCode)
}
