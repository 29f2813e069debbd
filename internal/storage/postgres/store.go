// Package postgres provides the pgx/v5 backed storage.Store. It registers the
// "postgres" kind with the storage factory at init time.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"schevo/internal/storage"
)

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

// newPool is a test hook; tests replace it to avoid real DB connections.
var newPool = func(ctx context.Context, cfg storage.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return pool, nil
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		pool, err := newPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Store{querier: querier{q: pool}, pool: pool}, nil
	})
}

// pgxQuerier is the method set shared by *pgxpool.Pool and *pgxpool.Conn.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a storage.Store over a pgx connection pool.
type Store struct {
	querier
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Acquire checks a connection out of the pool.
func (s *Store) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgxpool acquire: %w", err)
	}
	return &conn{querier: querier{q: c}, c: c}, nil
}

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

type conn struct {
	querier
	c *pgxpool.Conn
}

func (c *conn) Release() { c.c.Release() }

type querier struct{ q pgxQuerier }

func (q querier) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := q.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (q querier) QueryScalar(ctx context.Context, sql string, args ...any) (any, error) {
	var v any
	if err := q.q.QueryRow(ctx, sql, args...).Scan(&v); err != nil {
		return nil, mapErr(err)
	}
	return v, nil
}

func (q querier) QueryAll(ctx context.Context, sql string, args ...any) ([][]any, error) {
	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// mapErr translates driver errors into storage sentinels, keeping the
// original error in the chain.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", storage.ErrNoRows, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s: %w", storage.ErrDuplicate, pgErr.ConstraintName, err)
	}
	return err
}
