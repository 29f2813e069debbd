package ddl

import (
	"strconv"
	"strings"
	"testing"
)

// TestBuildCreateTableSQL verifies the rendered CREATE TABLE statements and
// the errors surfaced for invalid inputs.
func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		def         TableDef
		wantSQL     string
		wantErr     bool
		errContains string
	}{
		{
			name: "empty FQN returns error",
			def: TableDef{
				FQN:     "   ",
				Columns: []ColumnDef{{Name: "id", SQLType: "INTEGER"}},
			},
			wantErr:     true,
			errContains: "table FQN must not be empty",
		},
		{
			name:        "no columns returns error",
			def:         TableDef{FQN: "schevo.t"},
			wantErr:     true,
			errContains: "at least one column is required",
		},
		{
			name: "column with empty name returns error",
			def: TableDef{
				FQN:     "t",
				Columns: []ColumnDef{{Name: "", SQLType: "INTEGER"}},
			},
			wantErr:     true,
			errContains: "column with empty name",
		},
		{
			name: "column with empty type returns error",
			def: TableDef{
				FQN:     "t",
				Columns: []ColumnDef{{Name: "id", SQLType: ""}},
			},
			wantErr:     true,
			errContains: "missing SQLType",
		},
		{
			name: "unique without columns returns error",
			def: TableDef{
				FQN:     "t",
				Columns: []ColumnDef{{Name: "id", SQLType: "INTEGER"}},
				Unique:  []UniqueDef{{Name: "uq"}},
			},
			wantErr:     true,
			errContains: "has no columns",
		},
		{
			name: "single nullable column",
			def: TableDef{
				FQN:     "t",
				Columns: []ColumnDef{{Name: "x", SQLType: "VARCHAR(3)", Nullable: true}},
			},
			wantSQL: "CREATE TABLE IF NOT EXISTS \"t\" (\n  \"x\" VARCHAR(3)\n);",
		},
		{
			name: "default and not null",
			def: TableDef{
				FQN: "schevo.t",
				Columns: []ColumnDef{
					{Name: "sys_ins_date", SQLType: "TIMESTAMP", Default: "  NOW()  "},
				},
			},
			wantSQL: "CREATE TABLE IF NOT EXISTS \"schevo\".\"t\" (\n  \"sys_ins_date\" TIMESTAMP NOT NULL DEFAULT NOW()\n);",
		},
		{
			name: "identity primary key with named constraints",
			def: TableDef{
				FQN: "schevo.s_a",
				Columns: []ColumnDef{
					{Name: "id", SQLType: "INTEGER", Identity: true, PrimaryKey: true, Nullable: true},
					{Name: "sys_row_number", SQLType: "INTEGER"},
					{Name: "x", SQLType: "VARCHAR(3)", Nullable: true},
				},
				PrimaryKeyName: "pk_s_a_id",
				Unique:         []UniqueDef{{Name: "uq_s_a_row", Columns: []string{"sys_row_number"}}},
				Checks:         []CheckDef{{Name: "chk_s_a_row", Expr: `"sys_row_number" > 0`}},
			},
			wantSQL: "CREATE TABLE IF NOT EXISTS \"schevo\".\"s_a\" (\n" +
				"  \"id\" INTEGER GENERATED ALWAYS AS IDENTITY NOT NULL,\n" +
				"  \"sys_row_number\" INTEGER NOT NULL,\n" +
				"  \"x\" VARCHAR(3),\n" +
				"  CONSTRAINT \"pk_s_a_id\" PRIMARY KEY (\"id\"),\n" +
				"  CONSTRAINT \"uq_s_a_row\" UNIQUE (\"sys_row_number\"),\n" +
				"  CONSTRAINT \"chk_s_a_row\" CHECK (\"sys_row_number\" > 0)\n" +
				");",
		},
		{
			name: "unnamed composite primary key keeps column order",
			def: TableDef{
				FQN: "t",
				Columns: []ColumnDef{
					{Name: "tenant_id", SQLType: "INTEGER", PrimaryKey: true},
					{Name: "id", SQLType: "INTEGER", PrimaryKey: true},
				},
			},
			wantSQL: "CREATE TABLE IF NOT EXISTS \"t\" (\n  \"tenant_id\" INTEGER NOT NULL,\n  \"id\" INTEGER NOT NULL,\n  PRIMARY KEY (\"tenant_id\", \"id\")\n);",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotSQL, err := BuildCreateTableSQL(tt.def)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("BuildCreateTableSQL() error = nil, want non-nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("BuildCreateTableSQL() error = %q, want substring %q", err.Error(), tt.errContains)
				}
				return
			}

			if err != nil {
				t.Fatalf("BuildCreateTableSQL() unexpected error = %v", err)
			}
			if gotSQL != tt.wantSQL {
				t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", gotSQL, tt.wantSQL)
			}
		})
	}
}

func TestBuildCreateIndexSQL(t *testing.T) {
	t.Parallel()

	got, err := BuildCreateIndexSQL(IndexDef{
		Name:    "idx_s_a_filename_row_number",
		Table:   "schevo.s_a",
		Columns: []string{"sys_filename", "sys_row_number"},
		Unique:  true,
	})
	if err != nil {
		t.Fatalf("BuildCreateIndexSQL() unexpected error = %v", err)
	}
	want := `CREATE UNIQUE INDEX IF NOT EXISTS "idx_s_a_filename_row_number" ON "schevo"."s_a" ("sys_filename", "sys_row_number");`
	if got != want {
		t.Fatalf("BuildCreateIndexSQL() = %s, want %s", got, want)
	}

	for _, bad := range []IndexDef{
		{Table: "t", Columns: []string{"a"}},
		{Name: "i", Columns: []string{"a"}},
		{Name: "i", Table: "t"},
	} {
		if _, err := BuildCreateIndexSQL(bad); err == nil {
			t.Fatalf("BuildCreateIndexSQL(%+v) error = nil, want non-nil", bad)
		}
	}
}

func TestBuildCreateSchemaSQL(t *testing.T) {
	t.Parallel()

	got, err := BuildCreateSchemaSQL(" schevo ")
	if err != nil {
		t.Fatalf("BuildCreateSchemaSQL() unexpected error = %v", err)
	}
	if want := `CREATE SCHEMA IF NOT EXISTS "schevo";`; got != want {
		t.Fatalf("BuildCreateSchemaSQL() = %s, want %s", got, want)
	}
	if _, err := BuildCreateSchemaSQL(""); err == nil {
		t.Fatalf("BuildCreateSchemaSQL(\"\") error = nil")
	}
}

func TestBuildAlterSQL(t *testing.T) {
	t.Parallel()

	add, err := BuildAddColumnSQL("schevo.s_a", ColumnDef{Name: "z", SQLType: "NUMERIC(9,2)"})
	if err != nil {
		t.Fatalf("BuildAddColumnSQL() unexpected error = %v", err)
	}
	if want := `ALTER TABLE "schevo"."s_a" ADD COLUMN "z" NUMERIC(9,2);`; add != want {
		t.Fatalf("BuildAddColumnSQL() = %s, want %s", add, want)
	}

	widen, err := BuildAlterColumnTypeSQL("schevo.s_a", "x", "VARCHAR(5)")
	if err != nil {
		t.Fatalf("BuildAlterColumnTypeSQL() unexpected error = %v", err)
	}
	if want := `ALTER TABLE "schevo"."s_a" ALTER COLUMN "x" TYPE VARCHAR(5);`; widen != want {
		t.Fatalf("BuildAlterColumnTypeSQL() = %s, want %s", widen, want)
	}

	if _, err := BuildAddColumnSQL("", ColumnDef{Name: "z", SQLType: "DATE"}); err == nil {
		t.Fatalf("BuildAddColumnSQL() with empty table: error = nil")
	}
	if _, err := BuildAlterColumnTypeSQL("t", "", "DATE"); err == nil {
		t.Fatalf("BuildAlterColumnTypeSQL() with empty column: error = nil")
	}
}

// TestQuoteIdent verifies identifier quoting and escaping.
func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "name", want: `"name"`},
		{in: "", want: `""`},
		{in: "user name", want: `"user name"`},
		{in: `weird"name`, want: `"weird""name"`},
	}

	for _, tt := range tests {
		if got := QuoteIdent(tt.in); got != tt.want {
			t.Fatalf("QuoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteFQN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "users", want: `"users"`},
		{in: "schevo.users", want: `"schevo"."users"`},
		{in: ".schevo..users.", want: `"schevo"."users"`},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		if got := QuoteFQN(tt.in); got != tt.want {
			t.Fatalf("QuoteFQN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConstraintName(t *testing.T) {
	t.Parallel()

	if got := ConstraintName("pk", "s_a", "id"); got != "pk_s_a_id" {
		t.Fatalf("ConstraintName() = %q", got)
	}

	long1 := ConstraintName("uq", strings.Repeat("t", 70)+"1", "filename_row_number")
	long2 := ConstraintName("uq", strings.Repeat("t", 70)+"2", "filename_row_number")
	if len(long1) != MaxIdentLen || len(long2) != MaxIdentLen {
		t.Fatalf("ConstraintName() lengths = %d, %d, want %d", len(long1), len(long2), MaxIdentLen)
	}
	if long1 == long2 {
		t.Fatalf("ConstraintName() collided for distinct tables: %q", long1)
	}
	if again := ConstraintName("uq", strings.Repeat("t", 70)+"1", "filename_row_number"); again != long1 {
		t.Fatalf("ConstraintName() not deterministic: %q vs %q", again, long1)
	}
}

var benchmarkSink string

// BenchmarkBuildCreateTableSQL_Wide measures rendering a wide record layout.
func BenchmarkBuildCreateTableSQL_Wide(b *testing.B) {
	cols := make([]ColumnDef, 0, 64)
	for i := 0; i < 64; i++ {
		cols = append(cols, ColumnDef{
			Name:     "col_" + strconv.Itoa(i),
			SQLType:  "VARCHAR(32)",
			Nullable: true,
		})
	}
	def := TableDef{FQN: "schevo.wide", Columns: cols}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sql, err := BuildCreateTableSQL(def)
		if err != nil {
			b.Fatalf("BuildCreateTableSQL() error = %v", err)
		}
		benchmarkSink = sql
	}
}
