package ddl

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., VARCHAR(12), NUMERIC(9,2), TIMESTAMP)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Identity: render GENERATED ALWAYS AS IDENTITY
//   - Default: raw default expression (e.g., NOW())
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Identity   bool
	Default    string
}

// TableDef holds the fully-qualified table name (FQN), an ordered list of
// columns and optional named constraints. The FQN is expected in dotted form
// (e.g., "schema.table") and is quoted by renderers.
type TableDef struct {
	FQN     string
	Columns []ColumnDef

	// PrimaryKeyName names the PRIMARY KEY constraint; empty leaves it
	// unnamed.
	PrimaryKeyName string
	Unique         []UniqueDef
	Checks         []CheckDef
}

// UniqueDef is a named UNIQUE constraint over columns.
type UniqueDef struct {
	Name    string
	Columns []string
}

// CheckDef is a named CHECK constraint. Expr is raw SQL.
type CheckDef struct {
	Name string
	Expr string
}

// IndexDef describes an index on Table (an FQN).
type IndexDef struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}
