package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Runtime holds the settings of one load run that do not live in the
// catalog. Zero values are filled from SCHEVO_* environment variables and
// then from defaults by Resolve.
type Runtime struct {
	// StoreKind selects the storage backend ("postgres" or "pq").
	StoreKind string
	// DSN is the database connection string.
	DSN string
	// Schema is the namespace holding one table per (stream, record code).
	Schema string

	// Workers bounds the number of chunks ingested concurrently.
	Workers int
	// ChunkRows is the maximum number of lines per chunk file.
	ChunkRows int
	// MaxRowsPerSecond throttles inserts across all workers; 0 disables it.
	MaxRowsPerSecond float64

	// Job labels logs and metrics.
	Job string
}

const (
	DefaultStoreKind = "postgres"
	DefaultSchema    = "schevo"
	DefaultChunkRows = 100_000
	DefaultJob       = "schevo"

	maxWorkers = 32
)

// DefaultWorkers is min(32, 2 x available parallelism).
func DefaultWorkers() int {
	return min(maxWorkers, 2*runtime.GOMAXPROCS(0))
}

// Resolve returns r with unset fields taken from the environment or
// defaults: flag -> env -> default.
func (r Runtime) Resolve() Runtime {
	r.StoreKind = pickString(r.StoreKind, os.Getenv("SCHEVO_STORE"), DefaultStoreKind)
	r.DSN = pickString(r.DSN, os.Getenv("SCHEVO_DSN"), os.Getenv("DATABASE_URL"))
	r.Schema = pickString(r.Schema, os.Getenv("SCHEVO_SCHEMA"), DefaultSchema)
	r.Job = pickString(r.Job, os.Getenv("SCHEVO_JOB"), DefaultJob)
	r.Workers = pickInt(r.Workers, getenvInt("SCHEVO_WORKERS", DefaultWorkers()))
	r.ChunkRows = pickInt(r.ChunkRows, getenvInt("SCHEVO_CHUNK_ROWS", DefaultChunkRows))
	if r.MaxRowsPerSecond <= 0 {
		r.MaxRowsPerSecond = getenvFloat("SCHEVO_MAX_ROWS_PER_SECOND", 0)
	}
	return r
}

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if s := os.Getenv(k); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func pickString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
