package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"schevo/internal/config"
	"schevo/internal/datasource/file"
	"schevo/internal/fixedwidth"
	"schevo/internal/ingest"
	"schevo/internal/metrics"
	"schevo/internal/metrics/prompush"
	"schevo/internal/report"
	"schevo/internal/storage"
)

// Test seams.
var (
	appFs    afero.Fs = afero.NewOsFs()
	newStore          = storage.New
	now               = time.Now
)

const defaultCatalog = "config/catalog.yaml"

type rootOptions struct {
	catalog string
	verbose bool
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}
	root := &cobra.Command{
		Use:           "schevo",
		Short:         "Load fixed-width extracts into Postgres, evolving table schemas as layouts change",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(cmd.ErrOrStderr())
			if !ro.verbose {
				log.SetOutput(io.Discard)
			}
		},
	}
	root.PersistentFlags().StringVarP(&ro.catalog, "config", "c", defaultCatalog, "catalog file (JSON, or YAML by extension)")
	root.PersistentFlags().BoolVarP(&ro.verbose, "verbose", "v", false, "enable verbose logs")

	root.AddCommand(newLoadCmd(ro), newValidateCmd(ro), newReportCmd(ro))
	return root
}

// loadStreams reads, lints and compiles the catalog. Issues are printed to
// w; any error-level issue fails the load.
func loadStreams(w io.Writer, path string) ([]*fixedwidth.Stream, error) {
	cat, err := config.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	issues := config.ValidateCatalog(cat)
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return nil, fmt.Errorf("configuration is invalid: %s", path)
	}

	streams := make([]*fixedwidth.Stream, 0, len(cat.Streams))
	for _, s := range cat.Streams {
		st, err := fixedwidth.Compile(s)
		if err != nil {
			return nil, err
		}
		streams = append(streams, st)
	}
	return streams, nil
}

// matchBatches assigns the files of dir to streams.
func matchBatches(fsys afero.Fs, dir string, streams []*fixedwidth.Stream) ([]ingest.Batch, error) {
	rules := make([]file.Rule, 0, len(streams))
	byName := make(map[string]*fixedwidth.Stream, len(streams))
	for _, st := range streams {
		rules = append(rules, file.Rule{Stream: st.Name, Pattern: st.Pattern})
		byName[st.Name] = st
	}
	groups, err := file.Match(fsys, dir, rules)
	if err != nil {
		return nil, err
	}
	batches := make([]ingest.Batch, 0, len(groups))
	for _, g := range groups {
		batches = append(batches, ingest.Batch{Stream: byName[g.Stream], Files: g.Files})
	}
	return batches, nil
}

func newValidateCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Lint the catalog and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			streams, err := loadStreams(cmd.ErrOrStderr(), ro.catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s (%d streams)\n", ro.catalog, len(streams))
			return nil
		},
	}
}

type loadOptions struct {
	dir      string
	runtime  config.Runtime
	jobStart string

	metricsBackend string
	pushgatewayURL string
}

func newLoadCmd(ro *rootOptions) *cobra.Command {
	lo := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every matching file of a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLoad(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), ro, lo)
		},
	}
	f := cmd.Flags()
	f.StringVar(&lo.dir, "dir", ".", "working directory holding the input files")
	f.StringVar(&lo.runtime.DSN, "dsn", "", "database connection string (env SCHEVO_DSN, DATABASE_URL)")
	f.StringVar(&lo.runtime.StoreKind, "store", "", "storage backend: postgres or pq (env SCHEVO_STORE)")
	f.StringVar(&lo.runtime.Schema, "schema", "", "schema holding the record tables (env SCHEVO_SCHEMA)")
	f.StringVar(&lo.runtime.Job, "job", "", "job name for logs and metrics (env SCHEVO_JOB)")
	f.IntVar(&lo.runtime.Workers, "workers", 0, "chunks loaded concurrently (env SCHEVO_WORKERS)")
	f.IntVar(&lo.runtime.ChunkRows, "chunk-rows", 0, "maximum lines per chunk (env SCHEVO_CHUNK_ROWS)")
	f.Float64Var(&lo.runtime.MaxRowsPerSecond, "max-rows-per-second", 0, "insert throttle, 0 for none (env SCHEVO_MAX_ROWS_PER_SECOND)")
	f.StringVar(&lo.jobStart, "job-start", "", "job start timestamp, RFC 3339 (default: now)")
	f.StringVar(&lo.metricsBackend, "metrics-backend", "", "metrics backend: pushgateway or none (env METRICS_BACKEND)")
	f.StringVar(&lo.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	return cmd
}

func runLoad(ctx context.Context, stdout, stderr io.Writer, ro *rootOptions, lo *loadOptions) error {
	jobStart := now()
	if lo.jobStart != "" {
		t, err := time.Parse(time.RFC3339, lo.jobStart)
		if err != nil {
			return fmt.Errorf("--job-start: %w", err)
		}
		jobStart = t
	}

	streams, err := loadStreams(stderr, ro.catalog)
	if err != nil {
		return err
	}
	batches, err := matchBatches(appFs, lo.dir, streams)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Fprintf(stdout, "no input files matched in %s\n", lo.dir)
		return nil
	}

	rt := lo.runtime.Resolve()
	if rt.DSN == "" {
		return errors.New("no database DSN: set --dsn or SCHEVO_DSN")
	}
	defer setupMetrics(lo.metricsBackend, lo.pushgatewayURL, rt.Job)()

	store, err := newStore(ctx, storage.Config{Kind: rt.StoreKind, DSN: rt.DSN, MaxConns: rt.Workers + 1})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	log.Printf("load: dir=%s streams=%d store=%s schema=%s", lo.dir, len(batches), rt.StoreKind, rt.Schema)
	sched := ingest.New(store, appFs, ingest.Options{
		Workers:          rt.Workers,
		ChunkRows:        rt.ChunkRows,
		Schema:           rt.Schema,
		MaxRowsPerSecond: rt.MaxRowsPerSecond,
		Job:              rt.Job,
	})
	start := time.Now()
	sum, err := sched.Run(ctx, batches, jobStart)
	for _, st := range sum.Streams {
		fmt.Fprintf(stdout, "%s: files=%d read=%d inserted=%d duplicates=%d unroutable=%d\n",
			st.Stream, st.Files, st.Read, st.Inserted, st.Duplicates, st.Unroutable)
	}
	fmt.Fprintf(stdout, "completed in %s\n", time.Since(start).Truncate(time.Millisecond))
	return err
}

// setupMetrics installs the selected metrics backend and returns the
// function that flushes it. Backend and URL fall back flag -> env -> default.
func setupMetrics(backendName, gwURL, job string) func() {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, job)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}

	case "", "none":
		log.Printf("metrics: disabled (backend=%q)", backendName)

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
	return func() {}
}

func newReportCmd(ro *rootOptions) *cobra.Command {
	var (
		dir     string
		maxRows int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render every matching file of a directory as an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			streams, err := loadStreams(cmd.ErrOrStderr(), ro.catalog)
			if err != nil {
				return err
			}
			batches, err := matchBatches(appFs, dir, streams)
			if err != nil {
				return err
			}
			for _, b := range batches {
				for _, path := range b.Files {
					out := report.OutputPath(path)
					stats, err := report.WriteWorkbook(cmd.Context(), b.Stream, file.NewLocal(appFs, path), appFs, out, report.Options{MaxSheetRows: maxRows})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: rows=%d sheets=%d\n", out, stats.Rows, len(stats.Sheets))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "working directory holding the input files")
	cmd.Flags().IntVar(&maxRows, "max-sheet-rows", report.DefaultMaxSheetRows, "data rows per sheet before rolling over")
	return cmd
}
