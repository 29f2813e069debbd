package schema

import (
	"context"
	"fmt"
	"strings"

	"schevo/internal/ddl"
	"schevo/internal/storage"
)

const (
	tableExistsSQL = `SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_type = 'BASE TABLE' AND table_schema = $1 AND table_name = $2
)`

	columnsSQL = `SELECT column_name::text,
  CASE data_type
    WHEN 'character varying' THEN 'VARCHAR'
    WHEN 'integer' THEN 'INTEGER'
    WHEN 'numeric' THEN 'NUMERIC'
    WHEN 'date' THEN 'DATE'
    WHEN 'time without time zone' THEN 'TIME'
    WHEN 'timestamp without time zone' THEN 'TIMESTAMP'
    ELSE upper(data_type::text)
  END,
  character_maximum_length::integer
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
)

// Outcome classifies what Synchronize did to a table.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Altered
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Altered:
		return "altered"
	default:
		return "unchanged"
	}
}

// Result describes one synchronized table.
type Result struct {
	Table   string
	Outcome Outcome
	Diff    Diff
}

// Synchronizer applies additive schema changes inside one database schema.
type Synchronizer struct {
	Schema string
}

// NewSynchronizer returns a Synchronizer for the given schema name.
func NewSynchronizer(schemaName string) *Synchronizer {
	return &Synchronizer{Schema: schemaName}
}

// EnsureSchema creates the schema when it is missing.
func (s *Synchronizer) EnsureSchema(ctx context.Context, q storage.Querier) error {
	stmt, err := ddl.BuildCreateSchemaSQL(s.Schema)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create schema %s: %w", s.Schema, err)
	}
	return nil
}

// Observe reads the current shape of table; it returns nil for a missing
// table.
func (s *Synchronizer) Observe(ctx context.Context, q storage.Querier, table string) (*TableState, error) {
	v, err := q.QueryScalar(ctx, tableExistsSQL, s.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("lookup table: %w", err)
	}
	if exists, _ := v.(bool); !exists {
		return nil, nil
	}

	rows, err := q.QueryAll(ctx, columnsSQL, s.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("lookup columns: %w", err)
	}
	st := &TableState{Columns: make([]ObservedColumn, 0, len(rows))}
	for _, r := range rows {
		if len(r) < 3 {
			return nil, fmt.Errorf("lookup columns: got %d values per row, want 3", len(r))
		}
		st.Columns = append(st.Columns, ObservedColumn{
			Name:   asString(r[0]),
			Type:   strings.ToUpper(asString(r[1])),
			Length: asLength(r[2]),
		})
	}
	return st, nil
}

// Synchronize brings table in line with cols and reports what changed.
// Errors are wrapped with the table name.
func (s *Synchronizer) Synchronize(ctx context.Context, q storage.Querier, table string, cols []Column) (Result, error) {
	res := Result{Table: table}

	observed, err := s.Observe(ctx, q, table)
	if err != nil {
		return res, fmt.Errorf("schema sync %s: %w", table, err)
	}
	res.Diff = ComputeDiff(observed, cols)
	if res.Diff.Empty() {
		return res, nil
	}

	stmts, err := res.Diff.Statements(s.Schema, table)
	if err != nil {
		return res, fmt.Errorf("schema sync %s: %w", table, err)
	}
	for _, stmt := range stmts {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return res, fmt.Errorf("schema sync %s: %w", table, err)
		}
	}

	res.Outcome = Altered
	if res.Diff.Create {
		res.Outcome = Created
	}
	return res, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// asLength converts character_maximum_length; NULL means unbounded.
func asLength(v any) int {
	switch x := v.(type) {
	case int32:
		return int(x)
	case int64:
		return int(x)
	case int:
		return x
	default:
		return -1
	}
}
