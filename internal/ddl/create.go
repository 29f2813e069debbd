// Package ddl defines a small model for the DDL schevo issues and renders it
// as Postgres SQL.
//
// Rendering rules shared by every builder:
//
//   - Identifiers are double-quoted; embedded double-quotes are escaped.
//   - Creation statements use IF NOT EXISTS so re-running them is a no-op.
//   - ColumnDef.Default and CheckDef.Expr are raw SQL (the caller is
//     responsible for safety).
package ddl

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// MaxIdentLen is the Postgres identifier limit (NAMEDATALEN-1).
const MaxIdentLen = 63

// BuildCreateTableSQL renders a CREATE TABLE IF NOT EXISTS statement.
//
// Rules:
//
//   - t.FQN must be non-empty.
//
//   - Each column must have a non-empty Name and SQLType and is rendered as:
//
//     "<Name>" <SQLType> [GENERATED ALWAYS AS IDENTITY] [NOT NULL] [DEFAULT <Default>]
//
//     NOT NULL is added when Nullable == false or the column is part of the
//     primary key.
//
//   - Primary-key columns are collected, in column order, into one
//     [CONSTRAINT "<PrimaryKeyName>"] PRIMARY KEY (...) clause, followed by
//     the UNIQUE and CHECK constraints in declaration order.
func BuildCreateTableSQL(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	parts := make([]string, 0, len(t.Columns)+1+len(t.Unique)+len(t.Checks))
	pks := make([]string, 0, 1)

	for _, c := range t.Columns {
		def, err := columnSQL(c)
		if err != nil {
			return "", fmt.Errorf("ddl: table %s: %w", fqn, err)
		}
		parts = append(parts, def)
		if c.PrimaryKey {
			pks = append(pks, QuoteIdent(strings.TrimSpace(c.Name)))
		}
	}

	if len(pks) > 0 {
		parts = append(parts, constraint(t.PrimaryKeyName, "PRIMARY KEY ("+strings.Join(pks, ", ")+")"))
	}
	for _, u := range t.Unique {
		if len(u.Columns) == 0 {
			return "", fmt.Errorf("ddl: table %s: unique constraint %s has no columns", fqn, u.Name)
		}
		parts = append(parts, constraint(u.Name, "UNIQUE ("+quoteList(u.Columns)+")"))
	}
	for _, c := range t.Checks {
		if strings.TrimSpace(c.Expr) == "" {
			return "", fmt.Errorf("ddl: table %s: check constraint %s has no expression", fqn, c.Name)
		}
		parts = append(parts, constraint(c.Name, "CHECK ("+strings.TrimSpace(c.Expr)+")"))
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		QuoteFQN(fqn),
		strings.Join(parts, ",\n  "),
	), nil
}

// BuildCreateSchemaSQL renders CREATE SCHEMA IF NOT EXISTS.
func BuildCreateSchemaSQL(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("ddl: schema name must not be empty")
	}
	return "CREATE SCHEMA IF NOT EXISTS " + QuoteIdent(strings.TrimSpace(name)) + ";", nil
}

// BuildCreateIndexSQL renders CREATE [UNIQUE] INDEX IF NOT EXISTS.
func BuildCreateIndexSQL(ix IndexDef) (string, error) {
	if strings.TrimSpace(ix.Name) == "" {
		return "", fmt.Errorf("ddl: index name must not be empty")
	}
	if strings.TrimSpace(ix.Table) == "" {
		return "", fmt.Errorf("ddl: index %s: table must not be empty", ix.Name)
	}
	if len(ix.Columns) == 0 {
		return "", fmt.Errorf("ddl: index %s: at least one column is required", ix.Name)
	}
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s);",
		unique, QuoteIdent(ix.Name), QuoteFQN(ix.Table), quoteList(ix.Columns)), nil
}

// BuildAddColumnSQL renders ALTER TABLE ... ADD COLUMN for c. Added columns
// are always nullable: existing rows have no value for them.
func BuildAddColumnSQL(fqn string, c ColumnDef) (string, error) {
	if strings.TrimSpace(fqn) == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	c.Nullable = true
	c.PrimaryKey = false
	c.Identity = false
	def, err := columnSQL(c)
	if err != nil {
		return "", fmt.Errorf("ddl: table %s: %w", fqn, err)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", QuoteFQN(fqn), def), nil
}

// BuildAlterColumnTypeSQL renders ALTER TABLE ... ALTER COLUMN ... TYPE.
func BuildAlterColumnTypeSQL(fqn, column, sqlType string) (string, error) {
	if strings.TrimSpace(fqn) == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if strings.TrimSpace(column) == "" || strings.TrimSpace(sqlType) == "" {
		return "", fmt.Errorf("ddl: table %s: column and type are required", fqn)
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;",
		QuoteFQN(fqn), QuoteIdent(strings.TrimSpace(column)), strings.TrimSpace(sqlType)), nil
}

// ConstraintName builds "<prefix>_<table>_<suffix>". Names longer than
// MaxIdentLen are cut and tagged with a hash of the full name so distinct
// tables keep distinct constraint names.
func ConstraintName(prefix, table, suffix string) string {
	name := prefix + "_" + table + "_" + suffix
	if len(name) <= MaxIdentLen {
		return name
	}
	tag := fmt.Sprintf("_%08x", uint32(xxh3.HashString(name)))
	return name[:MaxIdentLen-len(tag)] + tag
}

func columnSQL(c ColumnDef) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column with empty name")
	}
	typ := strings.TrimSpace(c.SQLType)
	if typ == "" {
		return "", fmt.Errorf("column %s missing SQLType", name)
	}

	var sb strings.Builder
	sb.WriteString(QuoteIdent(name))
	sb.WriteByte(' ')
	sb.WriteString(typ)
	if c.Identity {
		sb.WriteString(" GENERATED ALWAYS AS IDENTITY")
	}
	if !c.Nullable || c.PrimaryKey {
		sb.WriteString(" NOT NULL")
	}
	if def := strings.TrimSpace(c.Default); def != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(def)
	}
	return sb.String(), nil
}

func constraint(name, body string) string {
	if name == "" {
		return body
	}
	return "CONSTRAINT " + QuoteIdent(name) + " " + body
}

func quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = QuoteIdent(strings.TrimSpace(c))
	}
	return strings.Join(q, ", ")
}

// QuoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	QuoteIdent(`pcv`)        => `"pcv"`
//	QuoteIdent(`weird"name`) => `"weird""name"`
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes a possibly schema-qualified name like "schevo.users" to
// `"schevo"."users"`. Empty segments are ignored.
func QuoteFQN(f string) string {
	parts := strings.Split(f, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, QuoteIdent(p))
	}
	return strings.Join(out, ".")
}
