// Package sqldb provides a database/sql backed storage.Store using the
// lib/pq driver. It registers the "pq" kind with the storage factory.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"schevo/internal/storage"
)

// openDB is a test hook that points to sql.Open by default.
var openDB = sql.Open

func init() {
	storage.Register("pq", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Open opens and pings a lib/pq connection pool.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	db, err := openDB("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sql ping: %w", err)
	}
	return &Store{querier: querier{q: db}, db: db}, nil
}

// sqlQuerier is the method set shared by *sql.DB and *sql.Conn.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a storage.Store over *sql.DB.
type Store struct {
	querier
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Acquire pins one connection of the pool.
func (s *Store) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sql conn: %w", err)
	}
	return &conn{querier: querier{q: c}, c: c}, nil
}

// Close closes the pool.
func (s *Store) Close() { _ = s.db.Close() }

type conn struct {
	querier
	c *sql.Conn
}

func (c *conn) Release() { _ = c.c.Close() }

type querier struct{ q sqlQuerier }

func (q querier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (q querier) QueryScalar(ctx context.Context, query string, args ...any) (any, error) {
	var v any
	if err := q.q.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return nil, mapErr(err)
	}
	return normalize(v), nil
}

func (q querier) QueryAll(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapErr(err)
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// normalize turns driver []byte text into string.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", storage.ErrNoRows, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s: %w", storage.ErrDuplicate, pqErr.Constraint, err)
	}
	return err
}
