package fixedwidth

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// aliases maps common codec spellings that the IANA registry does not know.
var aliases = map[string]string{
	"latin-1": "ISO-8859-1",
	"latin1":  "ISO-8859-1",
	"cp1252":  "windows-1252",
	"cp1250":  "windows-1250",
	"ascii":   "US-ASCII",
}

// LookupEncoding resolves an encoding name. Empty and UTF-8 names return a
// nil encoding, meaning input is read as is. Encodings in which a newline is
// not the single byte 0x0A are rejected: chunks are split on raw bytes.
func LookupEncoding(name string) (encoding.Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf-8", "utf8":
		return nil, nil
	case "utf-8-sig", "utf8-sig":
		return unicode.UTF8BOM, nil
	}
	if alias, ok := aliases[key]; ok {
		key = alias
	}

	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil || enc == nil {
		enc, err = htmlindex.Get(key)
	}
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}

	nl, err := enc.NewEncoder().String("\n")
	if err != nil || nl != "\n" {
		return nil, fmt.Errorf("encoding %q: newline is not a single 0x0A byte", name)
	}
	return enc, nil
}
