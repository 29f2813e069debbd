// Package ingest loads fixed-width files into their record tables.
//
// A Scheduler takes each stream in turn: it synchronizes the schema of every
// table the stream writes to, splits the stream's files into chunks and hands
// one chunk to each unit of a bounded worker pool. Units decode rows in file
// order, skip rows already loaded and insert the rest. Every chunk file is
// removed when its unit ends, whatever the outcome.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"schevo/internal/chunk"
	"schevo/internal/config"
	"schevo/internal/dedup"
	"schevo/internal/fixedwidth"
	"schevo/internal/metrics"
	"schevo/internal/naming"
	"schevo/internal/schema"
	"schevo/internal/storage"
)

// Batch is one stream and the input files matched to it.
type Batch struct {
	Stream *fixedwidth.Stream
	Files  []string
}

// Options tunes a Scheduler. Zero values take the config defaults.
type Options struct {
	// Workers bounds the number of chunks loaded at once.
	Workers int
	// ChunkRows is the maximum number of lines per chunk; <= 0 loads each
	// file as a single chunk.
	ChunkRows int
	// Schema holds the record tables.
	Schema string
	// MaxRowsPerSecond throttles inserts across all units; 0 disables it.
	MaxRowsPerSecond float64
	// Job labels logs and metrics.
	Job string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = config.DefaultWorkers()
	}
	if o.Schema == "" {
		o.Schema = config.DefaultSchema
	}
	if o.Job == "" {
		o.Job = config.DefaultJob
	}
	return o
}

// Scheduler drives a load run.
type Scheduler struct {
	store storage.Store
	fs    afero.Fs
	opts  Options

	sync    *schema.Synchronizer
	checker *dedup.Checker
	limiter *rate.Limiter

	// split is chunk.Split; tests replace it.
	split func(ctx context.Context, fsys afero.Fs, path, tag string, maxRows int) ([]chunk.Chunk, error)
}

// New returns a Scheduler that reads files from fsys and writes to store.
func New(store storage.Store, fsys afero.Fs, opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		store:   store,
		fs:      fsys,
		opts:    opts,
		sync:    schema.NewSynchronizer(opts.Schema),
		checker: dedup.NewChecker(opts.Schema),
		split:   chunk.Split,
	}
	if opts.MaxRowsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxRowsPerSecond), max(1, int(opts.MaxRowsPerSecond)))
	}
	return s
}

// Options returns the resolved options.
func (s *Scheduler) Options() Options { return s.opts }

// run is the state shared by the units of one Run.
type run struct {
	id       string
	jobStart time.Time
	ledger   *dedup.Ledger

	mu    sync.Mutex
	first error
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == nil {
		r.first = err
	}
}

func (r *run) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.first
}

// Run loads every batch, stream by stream in name order, stamping rows with
// jobStart. It waits for every unit it started and returns the first error;
// a failing unit does not stop the others. A schema error skips the rest of
// its stream. Originals of clean streams are removed only after every batch
// has split them, since a file may belong to several streams.
func (s *Scheduler) Run(ctx context.Context, batches []Batch, jobStart time.Time) (Summary, error) {
	if jobStart.IsZero() {
		return Summary{}, errors.New("ingest: job start time is required")
	}
	r := &run{id: uuid.NewString(), jobStart: jobStart, ledger: dedup.NewLedger()}
	sum := Summary{RunID: r.id, JobStart: jobStart}
	began := time.Now()

	batches = append([]Batch(nil), batches...)
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].Stream.Name < batches[j].Stream.Name })

	log.Printf("ingest: run=%s streams=%d workers=%d chunk_rows=%d schema=%s",
		r.id, len(batches), s.opts.Workers, s.opts.ChunkRows, s.opts.Schema)

	if err := s.ensureSchema(ctx); err != nil {
		sum.Elapsed = time.Since(began)
		return sum, err
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	stats := make([]*streamStats, 0, len(batches))
	var cleanup []string
	toClean := map[string]bool{}
	tags := chunkTags(batches)
	for i, b := range batches {
		st := newStreamStats(b.Stream.Name)
		stats = append(stats, st)

		targets, err := s.syncBarrier(ctx, b.Stream, st)
		if err != nil {
			log.Printf("ingest: run=%s stream=%s schema sync failed: %v", r.id, b.Stream.Name, err)
			r.fail(err)
			continue
		}

		for _, file := range b.Files {
			chunks, err := s.splitFile(ctx, file, tags[i])
			if err != nil {
				log.Printf("ingest: run=%s stream=%s file=%s split failed: %v", r.id, b.Stream.Name, file, err)
				r.fail(err)
				continue
			}
			if b.Stream.Clean && !toClean[file] {
				toClean[file] = true
				cleanup = append(cleanup, file)
			}
			st.files.Add(1)
			st.chunks.Add(int64(len(chunks)))
			u := unit{stream: b.Stream, targets: targets, file: filepath.Base(file), stats: st}
			for _, c := range chunks {
				g.Go(func() error {
					if err := s.load(ctx, r, u, c); err != nil {
						log.Printf("ingest: run=%s chunk=%s failed: %v", r.id, c.Path, err)
						r.fail(err)
					}
					return nil
				})
			}
		}
	}
	for _, file := range cleanup {
		if err := s.fs.Remove(file); err != nil {
			log.Printf("ingest: run=%s file=%s clean failed: %v", r.id, file, err)
			r.fail(fmt.Errorf("clean %s: %w", file, err))
		}
	}
	_ = g.Wait()

	for _, st := range stats {
		ss := st.snapshot()
		sum.Streams = append(sum.Streams, ss)
		metrics.RecordRows(s.opts.Job, ss.Stream, "read", ss.Read)
		metrics.RecordRows(s.opts.Job, ss.Stream, "unroutable", ss.Unroutable)
		metrics.RecordRows(s.opts.Job, ss.Stream, "duplicate", ss.Duplicates)
		metrics.RecordRows(s.opts.Job, ss.Stream, "inserted", ss.Inserted)
		metrics.RecordChunks(s.opts.Job, int64(ss.Chunks))
	}
	sum.Elapsed = time.Since(began)
	logSummary(sum)
	return sum, r.err()
}

func (s *Scheduler) ensureSchema(ctx context.Context) error {
	conn, err := s.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("ingest: acquire: %w", err)
	}
	defer conn.Release()
	if err := s.sync.EnsureSchema(ctx, conn); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

// syncBarrier synchronizes the tables of one stream on a dedicated
// connection. Nothing of the stream is dispatched until it returns.
func (s *Scheduler) syncBarrier(ctx context.Context, st *fixedwidth.Stream, stats *streamStats) (targets map[string]target, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(s.opts.Job, "schema_sync", err, time.Since(start)) }()

	conn, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream %s: acquire: %w", st.Name, err)
	}
	defer conn.Release()

	targets, results, err := s.syncStream(ctx, conn, st)
	stats.tables = results
	for _, res := range results {
		log.Printf("ingest: stream=%s table=%s.%s outcome=%s added=%d widened=%d",
			st.Name, s.opts.Schema, res.Table, res.Outcome, len(res.Diff.Added), len(res.Diff.Widened))
	}
	return targets, err
}

func (s *Scheduler) splitFile(ctx context.Context, file, tag string) (chunks []chunk.Chunk, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(s.opts.Job, "split", err, time.Since(start)) }()

	return s.split(ctx, s.fs, file, tag, s.opts.ChunkRows)
}

// chunkTags names the chunk files of each batch after its stream. Streams
// whose names normalize alike get the batch position appended.
func chunkTags(batches []Batch) []string {
	tags := make([]string, len(batches))
	used := map[string]bool{}
	for i, b := range batches {
		tag := naming.Normalize(b.Stream.Name)
		if used[tag] {
			tag = fmt.Sprintf("%s_%d", tag, i)
		}
		used[tag] = true
		tags[i] = tag
	}
	return tags
}
