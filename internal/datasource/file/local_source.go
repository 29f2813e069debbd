// Package file implements the filesystem side of schevo's inputs: finding
// the files of a working directory that belong to each stream, and opening
// them as datasources.
package file

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"schevo/internal/datasource"
)

// Local is a filesystem data source bound to one path.
type Local struct {
	fs   afero.Fs
	path string
}

var _ datasource.Source = (*Local)(nil)

// NewLocal returns a Local data source for path on fsys. The returned value
// is safe for concurrent use as long as the file may be read concurrently.
func NewLocal(fsys afero.Fs, path string) *Local { return &Local{fs: fsys, path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Open opens the bound path for reading. A done context fails before the
// filesystem is touched; filesystem errors keep their cause for errors.Is.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}
