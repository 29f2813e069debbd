package schema

import (
	"fmt"

	"schevo/internal/config"
	"schevo/internal/ddl"
)

// ObservedColumn is a column as reported by information_schema. Length is
// the VARCHAR limit, or -1 when the type has none.
type ObservedColumn struct {
	Name   string
	Type   string
	Length int
}

// TableState is the observed shape of an existing table.
type TableState struct {
	Columns []ObservedColumn
}

// Column looks up an observed column by name.
func (s *TableState) Column(name string) (ObservedColumn, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ObservedColumn{}, false
}

// Widening grows a VARCHAR column from From to Column.Width characters.
type Widening struct {
	Column Column
	From   int
}

// Diff is the additive change that brings a table to a set of columns.
type Diff struct {
	// Create is set when the table does not exist; Columns then holds every
	// field column.
	Create  bool
	Columns []Column

	Added   []Column
	Widened []Widening
}

// Empty reports whether the table already matches.
func (d Diff) Empty() bool {
	return !d.Create && len(d.Added) == 0 && len(d.Widened) == 0
}

// ComputeDiff compares the observed table (nil when absent) against the
// desired columns. Only missing columns are added and only VARCHAR columns
// narrower than the desired string width are widened.
func ComputeDiff(observed *TableState, want []Column) Diff {
	if observed == nil {
		return Diff{Create: true, Columns: append([]Column(nil), want...)}
	}
	var d Diff
	for _, c := range want {
		have, ok := observed.Column(c.Name)
		if !ok {
			d.Added = append(d.Added, c)
			continue
		}
		if c.Type == config.TypeString && have.Type == "VARCHAR" && have.Length >= 0 && have.Length < c.Width {
			d.Widened = append(d.Widened, Widening{Column: c, From: have.Length})
		}
	}
	return d
}

// Statements renders d as DDL against <schema>.<table>.
func (d Diff) Statements(schemaName, table string) ([]string, error) {
	fqn := schemaName + "." + table
	if d.Create {
		create, err := ddl.BuildCreateTableSQL(TableDef(schemaName, table, d.Columns))
		if err != nil {
			return nil, err
		}
		index, err := ddl.BuildCreateIndexSQL(ddl.IndexDef{
			Name:    ddl.ConstraintName("idx", table, "filename_row_number"),
			Table:   fqn,
			Columns: []string{ColFilename, ColRowNumber},
			Unique:  true,
		})
		if err != nil {
			return nil, err
		}
		return []string{create, index}, nil
	}

	out := make([]string, 0, len(d.Added)+len(d.Widened))
	for _, c := range d.Added {
		stmt, err := ddl.BuildAddColumnSQL(fqn, ddl.ColumnDef{Name: c.Name, SQLType: c.SQLType(), Nullable: true})
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	for _, w := range d.Widened {
		if w.Column.Width <= w.From {
			return nil, fmt.Errorf("refusing to narrow %s.%s from %d to %d", fqn, w.Column.Name, w.From, w.Column.Width)
		}
		stmt, err := ddl.BuildAlterColumnTypeSQL(fqn, w.Column.Name, w.Column.SQLType())
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

// TableDef returns the full definition of a record table: identity key,
// system columns, then the field columns (all nullable).
func TableDef(schemaName, table string, cols []Column) ddl.TableDef {
	defs := make([]ddl.ColumnDef, 0, len(cols)+4)
	defs = append(defs,
		ddl.ColumnDef{Name: ColID, SQLType: "INTEGER", Identity: true, PrimaryKey: true},
		ddl.ColumnDef{Name: ColFilename, SQLType: fmt.Sprintf("VARCHAR(%d)", FilenameWidth)},
		ddl.ColumnDef{Name: ColRowNumber, SQLType: "INTEGER"},
		ddl.ColumnDef{Name: ColInsertedDate, SQLType: "TIMESTAMP", Default: "NOW()"},
	)
	for _, c := range cols {
		defs = append(defs, ddl.ColumnDef{Name: c.Name, SQLType: c.SQLType(), Nullable: true})
	}
	return ddl.TableDef{
		FQN:            schemaName + "." + table,
		Columns:        defs,
		PrimaryKeyName: ddl.ConstraintName("pk", table, "id"),
		Unique: []ddl.UniqueDef{{
			Name:    ddl.ConstraintName("uq", table, "filename_row_number"),
			Columns: []string{ColFilename, ColRowNumber},
		}},
		Checks: []ddl.CheckDef{{
			Name: ddl.ConstraintName("chk", table, "row_number"),
			Expr: ddl.QuoteIdent(ColRowNumber) + " > 0",
		}},
	}
}
