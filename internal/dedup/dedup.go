// Package dedup decides whether a (file, row number) pair has already been
// loaded into a table. Checker asks the database; Ledger remembers claims
// made earlier in the same run so concurrent workers never race each other
// on one key.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"

	"schevo/internal/bitmap"
	"schevo/internal/ddl"
	"schevo/internal/storage"
)

// Checker looks up the uniqueness key of record tables in one schema.
type Checker struct {
	schema string

	mu      sync.RWMutex
	queries map[string]string
}

// NewChecker returns a Checker for tables in schemaName.
func NewChecker(schemaName string) *Checker {
	return &Checker{schema: schemaName, queries: map[string]string{}}
}

// Seen reports whether table already holds a row for (file, row).
func (c *Checker) Seen(ctx context.Context, q storage.Querier, table, file string, row int64) (bool, error) {
	v, err := q.QueryScalar(ctx, c.query(table), file, row)
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", table, err)
	}
	seen, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("dedup %s: unexpected result %T", table, v)
	}
	return seen, nil
}

func (c *Checker) query(table string) string {
	c.mu.RLock()
	sql, ok := c.queries[table]
	c.mu.RUnlock()
	if ok {
		return sql
	}
	sql = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE "sys_filename" = $1 AND "sys_row_number" = $2)`,
		ddl.QuoteFQN(c.schema+"."+table))
	c.mu.Lock()
	c.queries[table] = sql
	c.mu.Unlock()
	return sql
}

const ledgerShards = 64

// Ledger records which (table, file, row) keys this process has claimed.
// It is safe for concurrent use; keys are spread over shards by an xxh3
// hash of table and file.
type Ledger struct {
	shards [ledgerShards]ledgerShard
}

type ledgerShard struct {
	mu   sync.Mutex
	rows map[ledgerKey]*bitmap.Bitmap
}

type ledgerKey struct{ table, file string }

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i].rows = map[ledgerKey]*bitmap.Bitmap{}
	}
	return l
}

// Claim marks the key as taken and reports whether the caller is the first
// to claim it.
func (l *Ledger) Claim(table, file string, row int64) bool {
	if row <= 0 {
		return false
	}
	k := ledgerKey{table: table, file: file}
	s := &l.shards[xxh3.HashString(table+"\x00"+file)%ledgerShards]

	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.rows[k]
	if !ok {
		bm = bitmap.New(0)
		s.rows[k] = bm
	}
	return bm.Set(int(row))
}
