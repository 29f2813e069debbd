// Package datasource abstracts where raw input bytes come from.
package datasource

import (
	"context"
	"io"
)

// Source opens a fresh reader over its input on every call.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
