package ingest

import (
	"log"
	"sync/atomic"
	"time"

	"schevo/internal/schema"
)

// StreamSummary counts what happened to one stream.
type StreamSummary struct {
	Stream string
	Files  int
	Chunks int

	// Read = Unroutable + Duplicates + Inserted for a run without errors.
	Read       int64
	Unroutable int64
	Duplicates int64
	Inserted   int64

	Tables []schema.Result
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	JobStart time.Time
	Elapsed  time.Duration
	Streams  []StreamSummary
}

// Total sums the counters of every stream.
func (s Summary) Total() StreamSummary {
	var t StreamSummary
	for _, st := range s.Streams {
		t.Files += st.Files
		t.Chunks += st.Chunks
		t.Read += st.Read
		t.Unroutable += st.Unroutable
		t.Duplicates += st.Duplicates
		t.Inserted += st.Inserted
		t.Tables = append(t.Tables, st.Tables...)
	}
	return t
}

// Stream returns the summary of one stream.
func (s Summary) Stream(name string) (StreamSummary, bool) {
	for _, st := range s.Streams {
		if st.Stream == name {
			return st, true
		}
	}
	return StreamSummary{}, false
}

type streamStats struct {
	name   string
	tables []schema.Result

	files, chunks                          atomic.Int64
	read, unroutable, duplicates, inserted atomic.Int64
}

func newStreamStats(name string) *streamStats { return &streamStats{name: name} }

func (s *streamStats) snapshot() StreamSummary {
	return StreamSummary{
		Stream:     s.name,
		Files:      int(s.files.Load()),
		Chunks:     int(s.chunks.Load()),
		Read:       s.read.Load(),
		Unroutable: s.unroutable.Load(),
		Duplicates: s.duplicates.Load(),
		Inserted:   s.inserted.Load(),
		Tables:     s.tables,
	}
}

func logSummary(sum Summary) {
	for _, st := range sum.Streams {
		log.Printf("summary: run=%s stream=%s files=%d chunks=%d read=%d unroutable=%d duplicates=%d inserted=%d",
			sum.RunID, st.Stream, st.Files, st.Chunks, st.Read, st.Unroutable, st.Duplicates, st.Inserted)
	}
	t := sum.Total()
	log.Printf("summary: run=%s files=%d chunks=%d read=%d unroutable=%d duplicates=%d inserted=%d elapsed=%s",
		sum.RunID, t.Files, t.Chunks, t.Read, t.Unroutable, t.Duplicates, t.Inserted, sum.Elapsed.Truncate(time.Millisecond))
}
