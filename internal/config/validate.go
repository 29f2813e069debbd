// Package config provides configuration models and helpers for schevo.
//
// This file adds a linter for Catalog values. It performs static checks over a
// decoded Catalog and returns a list of issues (errors and warnings) that
// callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"schevo/internal/ddl"
	"schevo/internal/naming"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that must block ingestion.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates something suspicious that does not block
	// ingestion.
	SeverityWarning IssueSeverity = "warning"
)

// SystemColumns are the columns every target table carries besides the
// layout fields. Layout fields must not normalize to any of them.
var SystemColumns = []string{"id", "sys_filename", "sys_row_number", "sys_ins_date"}

// Issue describes a single validation finding.
//
// Path is a dotted path into the catalog (e.g. "invoices.records.H1.amount").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be returned directly.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains at least one error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateCatalog performs static validation of a catalog. It does not
// mutate c. Encodings and strftime formats are checked later, when streams
// are compiled for decoding.
func ValidateCatalog(c Catalog) []Issue {
	var issues []Issue

	if len(c.Streams) == 0 {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "",
			Message:  "catalog declares no streams",
		})
	}

	seen := map[string]struct{}{}
	for _, s := range c.Streams {
		if _, dup := seen[s.Name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     s.Name,
				Message:  "stream declared more than once",
			})
		}
		seen[s.Name] = struct{}{}
		issues = append(issues, validateStream(s)...)
	}
	issues = append(issues, validateTableNames(c)...)
	return issues
}

func validateStream(s Stream) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "<empty>",
			Message:  "stream name must not be empty",
		})
	}

	if s.Filename == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     s.Name + ".filename",
			Message:  "no filename pattern; the stream will never match input files",
		})
	} else if _, err := regexp.Compile(s.Filename); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     s.Name + ".filename",
			Message:  fmt.Sprintf("invalid regular expression: %v", err),
		})
	}

	if s.RecordCode.Begin < 1 || s.RecordCode.End < s.RecordCode.Begin {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     s.Name + ".record_code",
			Message:  fmt.Sprintf("invalid span %s: want 1 <= begin <= end", s.RecordCode),
		})
	}

	if len(s.Records) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     s.Name + ".records",
			Message:  "no record layouts declared",
		})
	}

	codes := map[string]struct{}{}
	for _, r := range s.Records {
		path := s.Name + ".records." + r.Code
		if _, dup := codes[r.Code]; dup {
			issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: "record code declared more than once"})
		}
		codes[r.Code] = struct{}{}

		if w := s.RecordCode.Width(); w > 0 && len([]rune(r.Code)) != w {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path,
				Message:  fmt.Sprintf("record code is %d characters but record_code spans %d; rows will never match it", len([]rune(r.Code)), w),
			})
		}
		issues = append(issues, validateRecord(path, r)...)
	}
	return issues
}

func validateRecord(path string, r Record) []Issue {
	var issues []Issue

	if len(r.Fields) == 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: "record declares no fields"})
	}

	reserved := map[string]struct{}{}
	for _, c := range SystemColumns {
		reserved[c] = struct{}{}
	}
	columns := map[string]string{}

	for _, f := range r.Fields {
		fp := path + "." + f.Name

		col := naming.Normalize(f.Name)
		if len(col) > ddl.MaxIdentLen {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fp,
				Message:  fmt.Sprintf("column %q is %d bytes; Postgres keeps only %d", col, len(col), ddl.MaxIdentLen),
			})
		}
		if _, ok := reserved[col]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fp,
				Message:  fmt.Sprintf("field normalizes to reserved column %q", col),
			})
		}
		if other, ok := columns[col]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fp,
				Message:  fmt.Sprintf("field normalizes to column %q, already used by %q", col, other),
			})
		}
		columns[col] = f.Name

		if f.Begin < 1 || f.End < f.Begin {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fp,
				Message:  fmt.Sprintf("invalid span %s: want 1 <= begin <= end", f.Span()),
			})
			continue
		}

		t := f.EffectiveType()
		if !t.Known() {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fp + ".type",
				Message:  fmt.Sprintf("unknown type %q", f.Type),
			})
			continue
		}

		if t == TypeDecimal {
			scale, err := f.Scale()
			switch {
			case err != nil:
				issues = append(issues, Issue{Severity: SeverityError, Path: fp + ".format", Message: err.Error()})
			case scale > f.Width():
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fp + ".format",
					Message:  fmt.Sprintf("scale %d exceeds field width %d", scale, f.Width()),
				})
			}
		}
		if t == TypeString && f.Format != "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fp + ".format",
				Message:  "format is ignored for string fields",
			})
		}
	}
	return issues
}

// validateTableNames rejects catalogs where two different streams map to the
// same table, which would let one stream's schema sync run while another
// stream is inserting.
func validateTableNames(c Catalog) []Issue {
	var issues []Issue
	owner := map[string]string{}
	for _, s := range c.Streams {
		for _, r := range s.Records {
			table := naming.TableName(s.Name, r.Code)
			if len(table) > ddl.MaxIdentLen {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     s.Name + ".records." + r.Code,
					Message:  fmt.Sprintf("table %q is %d bytes; Postgres keeps only %d", table, len(table), ddl.MaxIdentLen),
				})
			}
			if prev, ok := owner[table]; ok && prev != s.Name {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     s.Name + ".records." + r.Code,
					Message:  fmt.Sprintf("table %q is also targeted by stream %q", table, prev),
				})
				continue
			}
			owner[table] = s.Name
		}
	}
	return issues
}
