// Package chunk splits a line-oriented file into numbered chunk files so the
// chunks can be loaded concurrently while every line keeps its row number in
// the original file.
package chunk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/spf13/afero"
)

const (
	readBufSize  = 1 << 20
	writeBufSize = 256 << 10

	// ctxCheckEvery is how many lines pass between context checks.
	ctxCheckEvery = 4096
)

// Chunk describes one piece of a split file.
type Chunk struct {
	// Index is the 0-based position of the chunk within Source.
	Index int
	// Path is the chunk file, "<Source>#<tag>#<Index>" or "<Source>#<Index>"
	// without a tag.
	Path string
	// Source is the original file.
	Source string
	// FirstRow is the row number, in Source, of the chunk's first line.
	FirstRow int64
	// Rows is the number of lines in the chunk.
	Rows int64
}

// RowNumber maps a 1-based line number within the chunk to the row number in
// the original file.
func (c Chunk) RowNumber(local int64) int64 { return c.FirstRow + local - 1 }

// Path returns the chunk file name for index i of source. Splits of the same
// source under different tags never share a chunk file.
func Path(source, tag string, i int) string {
	if tag == "" {
		return source + "#" + strconv.Itoa(i)
	}
	return source + "#" + tag + "#" + strconv.Itoa(i)
}

// Split streams path into chunk files of at most maxRows lines each and
// returns their descriptors in order. tag namespaces the chunk files so the
// same source can be split more than once at the same time. maxRows <= 0
// produces a single chunk. An empty file produces no chunks. On error every
// chunk file created so far is removed.
func Split(ctx context.Context, fsys afero.Fs, path, tag string, maxRows int) (chunks []Chunk, err error) {
	src, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", path, err)
	}
	defer src.Close()
	adviseSequential(src)

	var (
		out     afero.File
		w       *bufio.Writer
		midLine bool
		lines   int64
	)
	closeCurrent := func() error {
		if out == nil {
			return nil
		}
		ferr := w.Flush()
		if cerr := out.Close(); ferr == nil {
			ferr = cerr
		}
		out, w = nil, nil
		return ferr
	}
	defer func() {
		if cerr := closeCurrent(); err == nil && cerr != nil {
			err = fmt.Errorf("split %s: %w", path, cerr)
		}
		if err != nil {
			for _, c := range chunks {
				_ = fsys.Remove(c.Path)
			}
			chunks = nil
		}
	}()

	r := bufio.NewReaderSize(src, readBufSize)
	for {
		line, rerr := r.ReadSlice('\n')
		if rerr != nil && rerr != bufio.ErrBufferFull && rerr != io.EOF {
			return chunks, fmt.Errorf("split %s: %w", path, rerr)
		}
		if len(line) > 0 {
			if !midLine {
				cur := len(chunks) - 1
				if cur < 0 || (maxRows > 0 && chunks[cur].Rows >= int64(maxRows)) {
					if err := closeCurrent(); err != nil {
						return chunks, fmt.Errorf("split %s: %w", path, err)
					}
					c := Chunk{Index: len(chunks), Path: Path(path, tag, len(chunks)), Source: path, FirstRow: lines + 1}
					f, err := fsys.Create(c.Path)
					if err != nil {
						return chunks, fmt.Errorf("split %s: %w", path, err)
					}
					chunks = append(chunks, c)
					out, w = f, bufio.NewWriterSize(f, writeBufSize)
				}
			}
			if _, err := w.Write(line); err != nil {
				return chunks, fmt.Errorf("split %s: %w", path, err)
			}
			midLine = rerr == bufio.ErrBufferFull
			if !midLine {
				lines++
				chunks[len(chunks)-1].Rows++
				if lines%ctxCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						return chunks, err
					}
				}
			}
		}
		if rerr == io.EOF {
			return chunks, nil
		}
	}
}

// Open opens a chunk for reading with a sequential access hint.
func Open(fsys afero.Fs, c Chunk) (afero.File, error) {
	f, err := fsys.Open(c.Path)
	if err != nil {
		return nil, err
	}
	adviseSequential(f)
	return f, nil
}

// Remove deletes a chunk file; a chunk that is already gone is not an error.
func Remove(fsys afero.Fs, c Chunk) error {
	if err := fsys.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
