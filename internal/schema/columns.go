// Package schema keeps target tables in step with record layouts. It derives
// the desired columns of each table from the compiled layouts, reads what the
// database currently has, and renders the additive DDL that closes the gap:
// create missing tables, add missing columns, widen VARCHAR columns. It never
// narrows, drops or retypes anything else.
package schema

import (
	"fmt"

	"schevo/internal/config"
	"schevo/internal/fixedwidth"
)

// System column names and the types they are created with.
const (
	ColID           = "id"
	ColFilename     = "sys_filename"
	ColRowNumber    = "sys_row_number"
	ColInsertedDate = "sys_ins_date"

	FilenameWidth = 255
)

// Column is the desired shape of one field column.
type Column struct {
	Name  string
	Type  config.FieldType
	Width int
	Scale int
}

// SQLType maps the column onto a Postgres type:
//
//   - string   -> VARCHAR(width)
//   - integer  -> INTEGER
//   - decimal  -> NUMERIC(width,scale)
//   - date     -> DATE
//   - time     -> TIME
//   - datetime -> TIMESTAMP
func (c Column) SQLType() string {
	switch c.Type {
	case config.TypeInteger:
		return "INTEGER"
	case config.TypeDecimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", c.Width, c.Scale)
	case config.TypeDate:
		return "DATE"
	case config.TypeTime:
		return "TIME"
	case config.TypeDatetime:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("VARCHAR(%d)", c.Width)
	}
}

// ColumnsFor returns the desired columns of a layout, in field order.
func ColumnsFor(l *fixedwidth.Layout) []Column {
	out := make([]Column, 0, len(l.Fields))
	for _, f := range l.Fields {
		c := Column{Name: f.Name, Type: f.Type(), Width: f.Spec.Width()}
		if c.Type == config.TypeDecimal {
			c.Scale, _ = f.Spec.Scale()
		}
		out = append(out, c)
	}
	return out
}

// MergeColumns folds b into a for layouts that share one table. Columns keep
// the order of first appearance; a column present in both takes the larger
// width. Different types for the same column are an error.
func MergeColumns(a, b []Column) ([]Column, error) {
	out := append([]Column(nil), a...)
	idx := make(map[string]int, len(out))
	for i, c := range out {
		idx[c.Name] = i
	}
	for _, c := range b {
		i, ok := idx[c.Name]
		if !ok {
			idx[c.Name] = len(out)
			out = append(out, c)
			continue
		}
		prev := &out[i]
		if prev.Type != c.Type {
			return nil, fmt.Errorf("column %s declared as %s and %s", c.Name, prev.Type, c.Type)
		}
		prev.Width = max(prev.Width, c.Width)
		prev.Scale = max(prev.Scale, c.Scale)
	}
	return out, nil
}
