package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schevo/internal/chunk"
	"schevo/internal/config"
	"schevo/internal/fixedwidth"
	"schevo/internal/storage"
	"schevo/internal/storage/storetest"
)

var jobStart = time.Date(2024, 3, 1, 6, 30, 0, 0, time.UTC)

func salesStream() config.Stream {
	return config.Stream{
		Name:       "Sales",
		Filename:   `sales_\d+\.txt`,
		RecordCode: config.Span{Begin: 1, End: 1},
		Records: []config.Record{{
			Code: "A",
			Fields: []config.Field{
				{Name: "x", Begin: 2, End: 4},
				{Name: "y", Begin: 5, End: 5, Type: config.TypeInteger},
			},
		}},
	}
}

func compile(t *testing.T, s config.Stream) *fixedwidth.Stream {
	t.Helper()
	st, err := fixedwidth.Compile(s)
	require.NoError(t, err)
	return st
}

func writeFile(t *testing.T, fsys afero.Fs, path, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(body), 0o644))
}

func assertNoChunks(t *testing.T, fsys afero.Fs, dir string) {
	t.Helper()
	entries, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "#", "chunk %s left behind", e.Name())
	}
}

func assertConnsReleased(t *testing.T, store *storetest.Fake) {
	t.Helper()
	acquired, released := store.Conns()
	assert.Positive(t, acquired)
	assert.Equal(t, acquired, released)
}

func TestRun_LoadsRowsWithOriginalRowNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\nAdef2\nZjunk\nAghi3\nAjkl4")

	s := New(store, fsys, Options{Workers: 4, ChunkRows: 2})
	sum, err := s.Run(ctx, []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}}}, jobStart)
	require.NoError(t, err)

	rows := store.Rows("schevo", "sales_a")
	require.Len(t, rows, 4)
	byRow := map[int64]map[string]any{}
	for _, r := range rows {
		byRow[r["sys_row_number"].(int64)] = r
	}
	require.Contains(t, byRow, int64(1))
	assert.Equal(t, "abc", byRow[1]["x"])
	assert.Equal(t, int64(1), byRow[1]["y"])
	assert.Equal(t, "sales_01.txt", byRow[1]["sys_filename"])
	assert.Equal(t, jobStart, byRow[1]["sys_ins_date"])
	assert.Equal(t, "ghi", byRow[4]["x"])
	assert.Equal(t, "jkl", byRow[5]["x"])
	assert.NotContains(t, byRow, int64(3), "unroutable row is skipped")

	st, ok := sum.Stream("Sales")
	require.True(t, ok)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, int64(5), st.Read)
	assert.Equal(t, int64(1), st.Unroutable)
	assert.Equal(t, int64(0), st.Duplicates)
	assert.Equal(t, int64(4), st.Inserted)
	require.Len(t, st.Tables, 1)
	assert.Equal(t, "created", st.Tables[0].Outcome.String())
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, jobStart, sum.JobStart)

	assertNoChunks(t, fsys, "/in")
	exists, err := afero.Exists(fsys, "/in/sales_01.txt")
	require.NoError(t, err)
	assert.True(t, exists, "original kept unless the stream is clean")
	assertConnsReleased(t, store)
	assert.True(t, store.HasSchema("schevo"))
}

func TestRun_SecondRunInsertsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\nAdef2\nAghi3\n")
	batches := []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}}}

	s := New(store, fsys, Options{Workers: 2, ChunkRows: 1})
	first, err := s.Run(ctx, batches, jobStart)
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Total().Inserted)

	second, err := s.Run(ctx, batches, jobStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Total().Inserted)
	assert.Equal(t, int64(3), second.Total().Duplicates)
	assert.Equal(t, 3, store.RowCount("schevo", "sales_a"))
	assert.NotEqual(t, first.RunID, second.RunID)
	require.Len(t, second.Total().Tables, 1)
	assert.Equal(t, "unchanged", second.Total().Tables[0].Outcome.String())
}

// blindStore hides existing rows from the key lookup so inserts hit the
// unique constraint instead.
type blindStore struct{ *storetest.Fake }

func (b blindStore) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := b.Fake.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return blindConn{c}, nil
}

type blindConn struct{ storage.Conn }

func (c blindConn) QueryScalar(ctx context.Context, sql string, args ...any) (any, error) {
	if strings.Contains(sql, `"sys_filename" = $1`) {
		return false, nil
	}
	return c.Conn.QueryScalar(ctx, sql, args...)
}

func TestRun_UniqueViolationCountsAsDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	fake := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\nAdef2\n")
	batches := []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}}}

	s := New(blindStore{fake}, fsys, Options{Workers: 1})
	_, err := s.Run(ctx, batches, jobStart)
	require.NoError(t, err)

	sum, err := s.Run(ctx, batches, jobStart)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Total().Duplicates)
	assert.Equal(t, int64(0), sum.Total().Inserted)
	assert.Equal(t, 2, fake.RowCount("schevo", "sales_a"))
}

func TestRun_CleanRemovesOriginal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\nAdef2\nAghi3\n")

	cfg := salesStream()
	cfg.Clean = true
	s := New(store, fsys, Options{Workers: 2, ChunkRows: 2})
	_, err := s.Run(ctx, []Batch{{Stream: compile(t, cfg), Files: []string{"/in/sales_01.txt"}}}, jobStart)
	require.NoError(t, err)

	exists, err := afero.Exists(fsys, "/in/sales_01.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 3, store.RowCount("schevo", "sales_a"))
	assertNoChunks(t, fsys, "/in")
}

func TestRun_DecodeErrorFailsOnlyItsChunk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\nAdefx\nAghi3\n")

	s := New(store, fsys, Options{Workers: 2, ChunkRows: 1})
	sum, err := s.Run(ctx, []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}}}, jobStart)
	require.Error(t, err)

	var de *fixedwidth.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "y", de.Field)
	assert.Contains(t, err.Error(), "sales_01.txt row 2")

	assert.Equal(t, 2, store.RowCount("schevo", "sales_a"), "other chunks still load")
	assert.Equal(t, int64(2), sum.Total().Inserted)
	assertNoChunks(t, fsys, "/in")
	assertConnsReleased(t, store)
}

func TestRun_SchemaErrorSkipsStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	store.BeforeExec = func(sql string, _ []any) error {
		if strings.Contains(sql, `"broken_a"`) {
			return errors.New("permission denied")
		}
		return nil
	}
	writeFile(t, fsys, "/in/broken_01.txt", "Aabc1\n")
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\n")

	broken := salesStream()
	broken.Name = "Broken"
	var splits []string
	s := New(store, fsys, Options{Workers: 2})
	s.split = func(ctx context.Context, fsys afero.Fs, path, tag string, maxRows int) ([]chunk.Chunk, error) {
		splits = append(splits, path)
		return chunk.Split(ctx, fsys, path, tag, maxRows)
	}

	_, err := s.Run(ctx, []Batch{
		{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}},
		{Stream: compile(t, broken), Files: []string{"/in/broken_01.txt"}},
	}, jobStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema sync broken_a")
	assert.Contains(t, err.Error(), "permission denied")

	assert.Equal(t, []string{"/in/sales_01.txt"}, splits, "no chunk of the failed stream is dispatched")
	assert.Equal(t, 1, store.RowCount("schevo", "sales_a"))
	assert.Equal(t, 0, store.RowCount("schevo", "broken_a"))
	assertConnsReleased(t, store)
}

func TestRun_SchemaSyncCompletesBeforeInserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()

	var (
		mu    sync.Mutex
		order []string
	)
	store.BeforeExec = func(sql string, _ []any) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, sql)
		return nil
	}

	cfg := salesStream()
	cfg.Records = append(cfg.Records, config.Record{
		Code:   "B",
		Fields: []config.Field{{Name: "amount", Begin: 2, End: 6, Type: config.TypeDecimal}},
	})
	var b strings.Builder
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			b.WriteString("Aabc1\n")
		} else {
			b.WriteString("B12345\n")
		}
	}
	writeFile(t, fsys, "/in/sales_01.txt", b.String())

	s := New(store, fsys, Options{Workers: 8, ChunkRows: 3})
	s.split = func(ctx context.Context, fsys afero.Fs, path, tag string, maxRows int) ([]chunk.Chunk, error) {
		assert.Equal(t, []string{"schevo.sales_a", "schevo.sales_b"}, store.Tables(), "tables exist before splitting")
		return chunk.Split(ctx, fsys, path, tag, maxRows)
	}
	sum, err := s.Run(ctx, []Batch{{Stream: compile(t, cfg), Files: []string{"/in/sales_01.txt"}}}, jobStart)
	require.NoError(t, err)
	assert.Equal(t, int64(40), sum.Total().Inserted)
	assert.Equal(t, 14, sum.Total().Chunks)

	mu.Lock()
	defer mu.Unlock()
	lastDDL, firstInsert := -1, len(order)
	for i, stmt := range order {
		if strings.HasPrefix(stmt, "INSERT") {
			firstInsert = min(firstInsert, i)
		} else {
			lastDDL = i
		}
	}
	assert.Less(t, lastDDL, firstInsert)
}

func TestRun_WidensColumnOnLaterRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\n")

	s := New(store, fsys, Options{Workers: 1})
	_, err := s.Run(ctx, []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}}}, jobStart)
	require.NoError(t, err)

	wider := salesStream()
	wider.Records[0].Fields = []config.Field{
		{Name: "x", Begin: 2, End: 6},
		{Name: "y", Begin: 7, End: 7, Type: config.TypeInteger},
		{Name: "note", Begin: 8, End: 9},
	}
	writeFile(t, fsys, "/in/sales_02.txt", "Aabcde7ok\n")
	sum, err := s.Run(ctx, []Batch{{Stream: compile(t, wider), Files: []string{"/in/sales_02.txt"}}}, jobStart)
	require.NoError(t, err)

	col, ok := store.Column("schevo", "sales_a", "x")
	require.True(t, ok)
	assert.Equal(t, 5, col.Length)
	_, ok = store.Column("schevo", "sales_a", "note")
	assert.True(t, ok)
	require.Len(t, sum.Total().Tables, 1)
	assert.Equal(t, "altered", sum.Total().Tables[0].Outcome.String())
	assert.Equal(t, 2, store.RowCount("schevo", "sales_a"))
}

func TestRun_EmptyAndMissingFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "")

	s := New(store, fsys, Options{Workers: 2})
	sum, err := s.Run(ctx, []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt", "/in/sales_02.txt"}}}, jobStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales_02.txt")

	st, ok := sum.Stream("Sales")
	require.True(t, ok)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 0, st.Chunks)
	assert.Zero(t, store.RowCount("schevo", "sales_a"))
}

func TestRun_RequiresJobStart(t *testing.T) {
	t.Parallel()

	s := New(storetest.New(), afero.NewMemMapFs(), Options{})
	_, err := s.Run(context.Background(), nil, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job start")
}

func TestRun_StoreUnavailable(t *testing.T) {
	t.Parallel()

	store := storetest.New()
	store.Close()
	s := New(store, afero.NewMemMapFs(), Options{})
	_, err := s.Run(context.Background(), nil, jobStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire")
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New(storetest.New(), afero.NewMemMapFs(), Options{})
	opts := s.Options()
	assert.Equal(t, config.DefaultWorkers(), opts.Workers)
	assert.Equal(t, config.DefaultSchema, opts.Schema)
	assert.Equal(t, config.DefaultJob, opts.Job)
	assert.Nil(t, s.limiter)

	s = New(storetest.New(), afero.NewMemMapFs(), Options{Workers: 3, Schema: "raw", MaxRowsPerSecond: 500})
	assert.Equal(t, 3, s.Options().Workers)
	assert.Equal(t, "raw", s.Options().Schema)
	require.NotNil(t, s.limiter)
	assert.Equal(t, 500, s.limiter.Burst())
}

func TestRun_ThrottledLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	store := storetest.New()
	writeFile(t, fsys, "/in/sales_01.txt", "Aabc1\nAdef2\n")

	s := New(store, fsys, Options{Workers: 2, MaxRowsPerSecond: 1000, Schema: "raw"})
	_, err := s.Run(ctx, []Batch{{Stream: compile(t, salesStream()), Files: []string{"/in/sales_01.txt"}}}, jobStart)
	require.NoError(t, err)
	assert.Equal(t, 2, store.RowCount("raw", "sales_a"))
}

func TestRun_FileSharedByStreams(t *testing.T) {
	t.Parallel()

	var body strings.Builder
	for i := range 200 {
		fmt.Fprintf(&body, "A%03d%d\n", i, i%10)
	}

	tests := []struct {
		name      string
		cleanA    bool
		cleanB    bool
		wantKeeps bool
	}{
		{name: "neither clean", wantKeeps: true},
		{name: "first stream clean", cleanA: true},
		{name: "second stream clean", cleanB: true},
		{name: "both clean", cleanA: true, cleanB: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			fsys := afero.NewMemMapFs()
			store := storetest.New()
			writeFile(t, fsys, "/in/sales_01.txt", body.String())

			a := salesStream()
			a.Clean = tt.cleanA
			b := salesStream()
			b.Name = "Sales2"
			b.Clean = tt.cleanB

			s := New(store, fsys, Options{Workers: 8, ChunkRows: 5})
			sum, err := s.Run(ctx, []Batch{
				{Stream: compile(t, b), Files: []string{"/in/sales_01.txt"}},
				{Stream: compile(t, a), Files: []string{"/in/sales_01.txt"}},
			}, jobStart)
			require.NoError(t, err)

			assert.Equal(t, 200, store.RowCount("schevo", "sales_a"))
			assert.Equal(t, 200, store.RowCount("schevo", "sales2_a"))
			assert.Equal(t, int64(400), sum.Total().Inserted)

			exists, err := afero.Exists(fsys, "/in/sales_01.txt")
			require.NoError(t, err)
			assert.Equal(t, tt.wantKeeps, exists)
			assertNoChunks(t, fsys, "/in")
			assertConnsReleased(t, store)
		})
	}
}

func TestChunkTags(t *testing.T) {
	t.Parallel()

	a := salesStream()
	b := salesStream()
	b.Name = "sales"
	c := salesStream()
	c.Name = "Audit Log"

	got := chunkTags([]Batch{
		{Stream: compile(t, a)},
		{Stream: compile(t, b)},
		{Stream: compile(t, c)},
	})
	assert.Equal(t, []string{"sales", "sales_1", "audit_log"}, got)
}
