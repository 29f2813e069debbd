// Package metrics records load counters and step timings through a
// pluggable Backend. The default backend discards everything, so callers
// never check whether metrics are enabled. Backends live in subpackages
// (prompush).
package metrics

import "time"

// Metric names shared with backends.
const (
	StepTotal           = "schevo_step_total"
	StepDurationSeconds = "schevo_step_duration_seconds"
	RowsTotal           = "schevo_rows_total"
	ChunksTotal         = "schevo_chunks_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend receives counters and duration observations. Flush is called once
// when a load finishes.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a load step ("schema_sync", "split",
// "load") and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind (read, unroutable, duplicate,
// inserted) to a stream. Non-positive deltas are dropped.
func RecordRows(job, stream, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":    job,
		"stream": stream,
		"kind":   kind,
	})
}

// RecordChunks increments the number of chunks loaded for a job.
func RecordChunks(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ChunksTotal, float64(delta), Labels{"job": job})
}
