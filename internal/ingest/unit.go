package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"schevo/internal/chunk"
	"schevo/internal/fixedwidth"
	"schevo/internal/metrics"
	"schevo/internal/storage"
)

const readBufSize = 256 << 10

// unit is what a worker needs to load the chunks of one file.
type unit struct {
	stream  *fixedwidth.Stream
	targets map[string]target
	// file is the base name of the original file, stored as sys_filename.
	file  string
	stats *streamStats
}

// load ingests one chunk on its own connection. The chunk file is removed on
// every path out.
func (s *Scheduler) load(ctx context.Context, r *run, u unit, c chunk.Chunk) (err error) {
	start := time.Now()
	defer func() {
		if rerr := chunk.Remove(s.fs, c); rerr != nil {
			log.Printf("ingest: remove chunk %s: %v", c.Path, rerr)
			if err == nil {
				err = fmt.Errorf("remove chunk %s: %w", c.Path, rerr)
			}
		}
		metrics.RecordStep(s.opts.Job, "load", err, time.Since(start))
	}()

	conn, err := s.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("load %s: acquire: %w", c.Path, err)
	}
	defer conn.Release()

	f, err := chunk.Open(s.fs, c)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.Path, err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(u.stream.NewReader(f), readBufSize)
	var local int64
	for {
		line, rerr := br.ReadString('\n')
		if len(line) > 0 {
			local++
			if err := s.loadRow(ctx, conn, r, u, c.RowNumber(local), line); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("load %s: line %d: %w", c.Path, local+1, rerr)
		}
	}
}

// loadRow routes, decodes and inserts one line. Rows without a layout and
// rows already present are counted and skipped.
func (s *Scheduler) loadRow(ctx context.Context, q storage.Querier, r *run, u unit, row int64, line string) error {
	u.stats.read.Add(1)

	l, code, ok := u.stream.Classify(line)
	if !ok {
		u.stats.unroutable.Add(1)
		return nil
	}
	rec, err := l.Decode(line)
	if err != nil {
		return fmt.Errorf("%s row %d: %w", u.file, row, err)
	}
	t := u.targets[code]

	if !r.ledger.Claim(t.table, u.file, row) {
		u.stats.duplicates.Add(1)
		return nil
	}
	seen, err := s.checker.Seen(ctx, q, t.table, u.file, row)
	if err != nil {
		return fmt.Errorf("%s row %d: %w", u.file, row, err)
	}
	if seen {
		u.stats.duplicates.Add(1)
		return nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	args := append(rec.Values(), u.file, row, r.jobStart)
	if _, err := q.Exec(ctx, t.insertSQL, args...); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			u.stats.duplicates.Add(1)
			return nil
		}
		return fmt.Errorf("%s row %d: insert into %s: %w", u.file, row, t.table, err)
	}
	u.stats.inserted.Add(1)
	return nil
}
