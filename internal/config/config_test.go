package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// The catalog fixtures deliberately list keys out of alphabetical order so
// the tests catch any decode path that goes through a Go map.
const catalogJSON = `{
  "payroll": {
    "filename": "^PAY_\\d+\\.txt$",
    "encoding": "latin-1",
    "clean": true,
    "record_code": [1, 2],
    "comment": { "ignored": true },
    "records": {
      "ZZ": {
        "zeta":  { "begin": 3, "end": 5 },
        "alpha": { "begin": 6, "end": 13, "type": "date" }
      },
      "AA": {
        "net pay": { "begin": 3, "end": 12, "type": "decimal", "format": "e-3" }
      }
    }
  },
  "accounts": {
    "filename": "^ACC",
    "record_code": [1, 1],
    "records": { "A": { "x": { "begin": 2, "end": 4, "type": "Integer" } } }
  }
}`

const catalogYAML = `
payroll:
  filename: '^PAY_\d+\.txt$'
  encoding: latin-1
  clean: true
  record_code: [1, 2]
  records:
    ZZ:
      zeta:  {begin: 3, end: 5}
      alpha: {begin: 6, end: 13, type: date}
    AA:
      net pay: {begin: 3, end: 12, type: decimal, format: e-3}
accounts:
  filename: '^ACC'
  record_code: [1, 1]
  records:
    A:
      x: {begin: 2, end: 4, type: Integer}
`

func assertSampleCatalog(t *testing.T, c Catalog) {
	t.Helper()

	require.Len(t, c.Streams, 2)
	assert.Equal(t, "payroll", c.Streams[0].Name)
	assert.Equal(t, "accounts", c.Streams[1].Name)

	p := c.Streams[0]
	assert.Equal(t, `^PAY_\d+\.txt$`, p.Filename)
	assert.Equal(t, "latin-1", p.Encoding)
	assert.True(t, p.Clean)
	assert.Equal(t, Span{Begin: 1, End: 2}, p.RecordCode)

	require.Len(t, p.Records, 2)
	assert.Equal(t, "ZZ", p.Records[0].Code)
	assert.Equal(t, "AA", p.Records[1].Code)

	zz := p.Records[0]
	require.Len(t, zz.Fields, 2)
	assert.Equal(t, Field{Name: "zeta", Begin: 3, End: 5}, zz.Fields[0])
	assert.Equal(t, Field{Name: "alpha", Begin: 6, End: 13, Type: TypeDate}, zz.Fields[1])

	aa, ok := p.Record("AA")
	require.True(t, ok)
	assert.Equal(t, Field{Name: "net pay", Begin: 3, End: 12, Type: TypeDecimal, Format: "e-3"}, aa.Fields[0])

	acc, ok := c.Stream("accounts")
	require.True(t, ok)
	assert.False(t, acc.Clean)
	assert.Empty(t, acc.Encoding)
	assert.Equal(t, TypeInteger, acc.Records[0].Fields[0].Type, "type is lowercased")
}

func TestCatalog_DecodeJSONKeepsOrder(t *testing.T) {
	t.Parallel()

	var c Catalog
	require.NoError(t, json.Unmarshal([]byte(catalogJSON), &c))
	assertSampleCatalog(t, c)
}

func TestCatalog_DecodeYAMLKeepsOrder(t *testing.T) {
	t.Parallel()

	var c Catalog
	require.NoError(t, yaml.Unmarshal([]byte(catalogYAML), &c))
	assertSampleCatalog(t, c)
}

func TestCatalog_DecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		js   string
	}{
		{name: "not an object", js: `[1,2]`},
		{name: "record_code arity", js: `{"s": {"record_code": [1]}}`},
		{name: "field not an object", js: `{"s": {"records": {"A": {"f": 3}}}}`},
		{name: "truncated", js: `{"s": {"records": {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var c Catalog
			assert.Error(t, json.Unmarshal([]byte(tt.js), &c))
		})
	}
}

func TestLoadCatalog_ByExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "schevo.json")
	yamlPath := filepath.Join(dir, "schevo.yml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(catalogJSON), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte(catalogYAML), 0o644))

	fromJSON, err := LoadCatalog(jsonPath)
	require.NoError(t, err)
	assertSampleCatalog(t, fromJSON)

	fromYAML, err := LoadCatalog(yamlPath)
	require.NoError(t, err)
	assertSampleCatalog(t, fromYAML)

	_, err = LoadCatalog(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestField_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		field      Field
		wantType   FieldType
		wantFormat string
	}{
		{Field{}, TypeString, ""},
		{Field{Type: TypeDecimal}, TypeDecimal, "e-2"},
		{Field{Type: TypeDate}, TypeDate, "%Y%m%d"},
		{Field{Type: TypeTime}, TypeTime, "%H%M%S"},
		{Field{Type: TypeDatetime}, TypeDatetime, "%Y%m%d%H%M%S"},
		{Field{Type: TypeDate, Format: "%d/%m/%Y"}, TypeDate, "%d/%m/%Y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantType, tt.field.EffectiveType())
		assert.Equal(t, tt.wantFormat, tt.field.EffectiveFormat())
	}

	assert.Equal(t, 3, Field{Begin: 4, End: 6}.Width())
}

func TestParseScale(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]int{"e-2": 2, "e-0": 0, "E-5": 5, " e-10 ": 10} {
		got, err := ParseScale(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "e2", "e-", "e-x", "2", "e--1"} {
		_, err := ParseScale(in)
		assert.Error(t, err, in)
	}
}
