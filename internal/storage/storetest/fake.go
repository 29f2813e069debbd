// Package storetest provides an in-memory storage.Store that understands the
// statements schevo issues: schema and table DDL, information_schema lookups,
// key lookups and single-row inserts. It enforces the (sys_filename,
// sys_row_number) uniqueness key and VARCHAR limits so loaders can be tested
// end to end without a database.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"schevo/internal/storage"
)

// Column is a column of a fake table. Length is the VARCHAR limit or -1.
type Column struct {
	Name   string
	Type   string
	Length int
}

type rowKey struct {
	file string
	row  int64
}

type table struct {
	cols []Column
	rows []map[string]any
	keys map[rowKey]struct{}
}

func (t *table) column(name string) (Column, int) {
	for i, c := range t.cols {
		if c.Name == name {
			return c, i
		}
	}
	return Column{}, -1
}

// Fake is an in-memory storage.Store. The zero value is not usable; call New.
type Fake struct {
	// BeforeExec, when set, runs before every Exec; a non-nil error fails
	// the statement. Set it before the Fake is shared.
	BeforeExec func(sql string, args []any) error

	mu      sync.Mutex
	schemas map[string]struct{}
	tables  map[string]*table
	stmts   []string

	acquired atomic.Int64
	released atomic.Int64
	closed   atomic.Bool
}

var _ storage.Store = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{schemas: map[string]struct{}{}, tables: map[string]*table{}}
}

const (
	ident = `"((?:[^"]|"")+)"`
	fqn   = ident + `\.` + ident
	typ   = `([A-Z]+(?:\([0-9, ]+\))?)`
)

var (
	reCreateSchema = regexp.MustCompile(`^CREATE SCHEMA IF NOT EXISTS ` + ident)
	reCreateTable  = regexp.MustCompile(`(?s)^CREATE TABLE IF NOT EXISTS ` + fqn + ` \((.*)\);?$`)
	reColumnLine   = regexp.MustCompile(`^` + ident + ` ` + typ)
	reCreateIndex  = regexp.MustCompile(`^CREATE (?:UNIQUE )?INDEX IF NOT EXISTS ` + ident + ` ON ` + fqn)
	reAddColumn    = regexp.MustCompile(`^ALTER TABLE ` + fqn + ` ADD COLUMN ` + ident + ` ` + typ)
	reAlterType    = regexp.MustCompile(`^ALTER TABLE ` + fqn + ` ALTER COLUMN ` + ident + ` TYPE ` + typ)
	reInsert       = regexp.MustCompile(`(?s)^INSERT INTO ` + fqn + ` \((.*?)\) VALUES`)
	reRowExists    = regexp.MustCompile(`FROM ` + fqn + ` WHERE`)
	reType         = regexp.MustCompile(`^([A-Z]+)(?:\((\d+)(?:, ?\d+)?\))?$`)
)

func unquote(s string) string { return strings.ReplaceAll(s, `""`, `"`) }

func tableKey(schema, name string) string { return schema + "." + name }

func parseType(s string) (base string, length int) {
	m := reType.FindStringSubmatch(s)
	if m == nil {
		return s, -1
	}
	if m[1] == "VARCHAR" && m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		return m[1], n
	}
	return m[1], -1
}

// Exec implements storage.Querier.
func (f *Fake) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	if f.closed.Load() {
		return 0, errors.New("storetest: store closed")
	}
	if f.BeforeExec != nil {
		if err := f.BeforeExec(sql, args); err != nil {
			return 0, err
		}
	}
	sql = strings.TrimSpace(sql)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stmts = append(f.stmts, sql)

	switch {
	case reCreateSchema.MatchString(sql):
		f.schemas[unquote(reCreateSchema.FindStringSubmatch(sql)[1])] = struct{}{}
		return 0, nil

	case reCreateTable.MatchString(sql):
		m := reCreateTable.FindStringSubmatch(sql)
		key := tableKey(unquote(m[1]), unquote(m[2]))
		if _, ok := f.tables[key]; ok {
			return 0, nil
		}
		t := &table{keys: map[rowKey]struct{}{}}
		for _, line := range strings.Split(m[3], "\n") {
			line = strings.TrimSuffix(strings.TrimSpace(line), ",")
			cm := reColumnLine.FindStringSubmatch(line)
			if cm == nil {
				continue
			}
			base, n := parseType(cm[2])
			t.cols = append(t.cols, Column{Name: unquote(cm[1]), Type: base, Length: n})
		}
		f.tables[key] = t
		return 0, nil

	case reCreateIndex.MatchString(sql):
		m := reCreateIndex.FindStringSubmatch(sql)
		if _, ok := f.tables[tableKey(unquote(m[2]), unquote(m[3]))]; !ok {
			return 0, fmt.Errorf("storetest: relation %s.%s does not exist", m[2], m[3])
		}
		return 0, nil

	case reAddColumn.MatchString(sql):
		m := reAddColumn.FindStringSubmatch(sql)
		t, err := f.table(unquote(m[1]), unquote(m[2]))
		if err != nil {
			return 0, err
		}
		name := unquote(m[3])
		if _, i := t.column(name); i >= 0 {
			return 0, fmt.Errorf("storetest: column %s already exists", name)
		}
		base, n := parseType(m[4])
		t.cols = append(t.cols, Column{Name: name, Type: base, Length: n})
		return 0, nil

	case reAlterType.MatchString(sql):
		m := reAlterType.FindStringSubmatch(sql)
		t, err := f.table(unquote(m[1]), unquote(m[2]))
		if err != nil {
			return 0, err
		}
		name := unquote(m[3])
		_, i := t.column(name)
		if i < 0 {
			return 0, fmt.Errorf("storetest: column %s does not exist", name)
		}
		base, n := parseType(m[4])
		t.cols[i].Type, t.cols[i].Length = base, n
		return 0, nil

	case reInsert.MatchString(sql):
		m := reInsert.FindStringSubmatch(sql)
		t, err := f.table(unquote(m[1]), unquote(m[2]))
		if err != nil {
			return 0, err
		}
		return f.insert(t, m[3], args)
	}
	return 0, fmt.Errorf("storetest: unsupported statement: %.60s", sql)
}

func (f *Fake) insert(t *table, list string, args []any) (int64, error) {
	names := strings.Split(list, ",")
	if len(names) != len(args) {
		return 0, fmt.Errorf("storetest: %d columns but %d values", len(names), len(args))
	}
	row := make(map[string]any, len(names))
	for i, n := range names {
		name := unquote(strings.Trim(strings.TrimSpace(n), `"`))
		c, idx := t.column(name)
		if idx < 0 {
			return 0, fmt.Errorf("storetest: column %s does not exist", name)
		}
		if s, ok := args[i].(string); ok && c.Type == "VARCHAR" && c.Length >= 0 && utf8.RuneCountInString(s) > c.Length {
			return 0, fmt.Errorf("storetest: value too long for type character varying(%d)", c.Length)
		}
		row[name] = args[i]
	}

	file, _ := row["sys_filename"].(string)
	rowNum, ok := asInt64(row["sys_row_number"])
	if !ok || rowNum <= 0 {
		return 0, fmt.Errorf("storetest: check constraint violated: sys_row_number=%v", row["sys_row_number"])
	}
	k := rowKey{file: file, row: rowNum}
	if _, dup := t.keys[k]; dup {
		return 0, fmt.Errorf("%w: %s row %d", storage.ErrDuplicate, file, rowNum)
	}
	t.keys[k] = struct{}{}
	t.rows = append(t.rows, row)
	return 1, nil
}

func (f *Fake) table(schema, name string) (*table, error) {
	t, ok := f.tables[tableKey(schema, name)]
	if !ok {
		return nil, fmt.Errorf("storetest: relation %s.%s does not exist", schema, name)
	}
	return t, nil
}

// QueryScalar implements storage.Querier for table existence and row key
// lookups.
func (f *Fake) QueryScalar(_ context.Context, sql string, args ...any) (any, error) {
	if f.closed.Load() {
		return nil, errors.New("storetest: store closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "information_schema.tables"):
		if len(args) != 2 {
			return nil, fmt.Errorf("storetest: want schema and table args")
		}
		_, ok := f.tables[tableKey(fmt.Sprint(args[0]), fmt.Sprint(args[1]))]
		return ok, nil

	case reRowExists.MatchString(sql):
		m := reRowExists.FindStringSubmatch(sql)
		t, err := f.table(unquote(m[1]), unquote(m[2]))
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("storetest: want filename and row args")
		}
		n, _ := asInt64(args[1])
		_, ok := t.keys[rowKey{file: fmt.Sprint(args[0]), row: n}]
		return ok, nil
	}
	return nil, fmt.Errorf("storetest: unsupported query: %.60s", sql)
}

// QueryAll implements storage.Querier for information_schema.columns.
func (f *Fake) QueryAll(_ context.Context, sql string, args ...any) ([][]any, error) {
	if f.closed.Load() {
		return nil, errors.New("storetest: store closed")
	}
	if !strings.Contains(sql, "information_schema.columns") || len(args) != 2 {
		return nil, fmt.Errorf("storetest: unsupported query: %.60s", sql)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[tableKey(fmt.Sprint(args[0]), fmt.Sprint(args[1]))]
	if !ok {
		return nil, nil
	}
	out := make([][]any, 0, len(t.cols))
	for _, c := range t.cols {
		var length any
		if c.Length >= 0 {
			length = int32(c.Length)
		}
		out = append(out, []any{c.Name, c.Type, length})
	}
	return out, nil
}

// Acquire returns a Conn backed by the same in-memory state.
func (f *Fake) Acquire(context.Context) (storage.Conn, error) {
	if f.closed.Load() {
		return nil, errors.New("storetest: store closed")
	}
	f.acquired.Add(1)
	return &conn{Fake: f}, nil
}

// Close marks the store closed; later calls fail.
func (f *Fake) Close() { f.closed.Store(true) }

type conn struct {
	*Fake
	once sync.Once
}

func (c *conn) Release() { c.once.Do(func() { c.Fake.released.Add(1) }) }

// Conns reports how many connections were acquired and released.
func (f *Fake) Conns() (acquired, released int64) {
	return f.acquired.Load(), f.released.Load()
}

// Statements returns every executed statement in order.
func (f *Fake) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

// DDL returns the executed statements that are not inserts.
func (f *Fake) DDL() []string {
	var out []string
	for _, s := range f.Statements() {
		if !strings.HasPrefix(s, "INSERT") {
			out = append(out, s)
		}
	}
	return out
}

// HasSchema reports whether CREATE SCHEMA ran for name.
func (f *Fake) HasSchema(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.schemas[name]
	return ok
}

// Tables lists existing tables as "schema.table", sorted.
func (f *Fake) Tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tables))
	for k := range f.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Columns returns the columns of a table in ordinal order.
func (f *Fake) Columns(schema, name string) []Column {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableKey(schema, name)]
	if !ok {
		return nil
	}
	return append([]Column(nil), t.cols...)
}

// Column returns one column of a table.
func (f *Fake) Column(schema, name, column string) (Column, bool) {
	for _, c := range f.Columns(schema, name) {
		if c.Name == column {
			return c, true
		}
	}
	return Column{}, false
}

// Rows returns copies of the stored rows in insertion order.
func (f *Fake) Rows(schema, name string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableKey(schema, name)]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// RowCount returns the number of rows stored in a table.
func (f *Fake) RowCount(schema, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableKey(schema, name)]; ok {
		return len(t.rows)
	}
	return 0
}

// SeedTable creates a table with the system columns followed by cols, as if
// an earlier run had created it.
func (f *Fake) SeedTable(schema, name string, cols ...Column) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &table{keys: map[rowKey]struct{}{}, cols: []Column{
		{Name: "id", Type: "INTEGER", Length: -1},
		{Name: "sys_filename", Type: "VARCHAR", Length: 255},
		{Name: "sys_row_number", Type: "INTEGER", Length: -1},
		{Name: "sys_ins_date", Type: "TIMESTAMP", Length: -1},
	}}
	t.cols = append(t.cols, cols...)
	f.tables[tableKey(schema, name)] = t
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}
