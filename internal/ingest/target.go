package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"schevo/internal/ddl"
	"schevo/internal/fixedwidth"
	"schevo/internal/naming"
	"schevo/internal/schema"
	"schevo/internal/storage"
)

// target is where rows of one record code go.
type target struct {
	table     string
	insertSQL string
}

// buildInsertSQL renders a positional INSERT for the layout's fields plus
// the three system columns, in that order.
func buildInsertSQL(schemaName, table string, l *fixedwidth.Layout) string {
	cols := make([]string, 0, len(l.Fields)+3)
	for _, f := range l.Fields {
		cols = append(cols, ddl.QuoteIdent(f.Name))
	}
	cols = append(cols,
		ddl.QuoteIdent(schema.ColFilename),
		ddl.QuoteIdent(schema.ColRowNumber),
		ddl.QuoteIdent(schema.ColInsertedDate),
	)
	ph := make([]string, len(cols))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ddl.QuoteFQN(schemaName+"."+table), strings.Join(cols, ", "), strings.Join(ph, ", "))
}

// tableColumns groups the layouts of a stream by target table and merges
// their columns. Record codes that differ only in case or punctuation share
// a table.
func tableColumns(st *fixedwidth.Stream) (map[string][]schema.Column, error) {
	out := map[string][]schema.Column{}
	for _, l := range st.Layouts() {
		table := naming.TableName(st.Name, l.Code)
		merged, err := schema.MergeColumns(out[table], schema.ColumnsFor(l))
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		out[table] = merged
	}
	return out, nil
}

// syncStream synchronizes every table of st and returns the insert target
// of each record code. It must complete before any chunk of st is loaded.
func (s *Scheduler) syncStream(ctx context.Context, q storage.Querier, st *fixedwidth.Stream) (map[string]target, []schema.Result, error) {
	tables, err := tableColumns(st)
	if err != nil {
		return nil, nil, fmt.Errorf("stream %s: %w", st.Name, err)
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]schema.Result, 0, len(names))
	for _, name := range names {
		res, err := s.sync.Synchronize(ctx, q, name, tables[name])
		if err != nil {
			return nil, results, fmt.Errorf("stream %s: %w", st.Name, err)
		}
		results = append(results, res)
	}

	targets := make(map[string]target, len(st.Layouts()))
	for _, l := range st.Layouts() {
		table := naming.TableName(st.Name, l.Code)
		targets[l.Code] = target{table: table, insertSQL: buildInsertSQL(s.opts.Schema, table, l)}
	}
	return targets, results, nil
}
