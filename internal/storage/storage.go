// Package storage defines the database abstraction schevo loads through and
// a registry of backends. Concrete backends (postgres, sqldb) register a
// Factory at init time; callers obtain a Store via New without importing the
// backend directly (see storage/all).
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicate reports a unique-constraint violation. Loaders count it as
	// a duplicate row, not a failure.
	ErrDuplicate = errors.New("storage: duplicate key")

	// ErrNoRows is returned by QueryScalar when the query yields no row.
	ErrNoRows = errors.New("storage: no rows")
)

// Querier runs SQL with $n positional placeholders.
type Querier interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// QueryScalar returns the first column of the first row.
	QueryScalar(ctx context.Context, sql string, args ...any) (any, error)
	// QueryAll returns every row as a slice of column values.
	QueryAll(ctx context.Context, sql string, args ...any) ([][]any, error)
}

// Conn is a single connection checked out of a Store.
type Conn interface {
	Querier
	Release()
}

// Store is a pooled database handle.
type Store interface {
	Querier
	// Acquire checks out a dedicated connection; callers must Release it.
	Acquire(ctx context.Context) (Conn, error)
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind     string // "postgres" or "pq"
	DSN      string
	MaxConns int // 0 keeps the backend default
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for a storage kind. It is
// typically called from backend packages' init() functions.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered storage kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Store using the Factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for kind=%q (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
