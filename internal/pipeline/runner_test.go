package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/ffcsv"
	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
	"github.com/MimeLyc/regional-stats-etl/internal/persistence"
)

const flaecheCSV = `statistics_code;time;1_variable_code;1_variable_attribute_code;AI0201__Siedlungs- und Verkehrsfläche__Prozent
71517;2024;KREISE;05111;12,5
71517;2024;KREISE;05112;13,1
`

// fakeFetcher behaves like genesis.Client towards its cache: handles are
// saved on first fetch, reused afterwards and marked retrieved on success.
type fakeFetcher struct {
	source string
	cache  jobs.Store

	mu      sync.Mutex
	calls   []genesis.TableRequest
	results map[string]*genesis.Result
	errs    map[string]error
	block   chan struct{}
}

func newFakeFetcher(t *testing.T, source string) *fakeFetcher {
	t.Helper()
	return &fakeFetcher{
		source:  source,
		cache:   jobs.NewFileStore(filepath.Join(t.TempDir(), source+"_jobs.json"), source, ""),
		results: map[string]*genesis.Result{},
		errs:    map[string]error{},
	}
}

func (f *fakeFetcher) Source() string    { return f.source }
func (f *fakeFetcher) Cache() jobs.Store { return f.cache }

func (f *fakeFetcher) GetTableData(ctx context.Context, req genesis.TableRequest) (*genesis.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	if err := f.errs[req.TableID]; err != nil {
		return nil, err
	}
	res, ok := f.results[req.TableID]
	if !ok {
		return nil, fmt.Errorf("no fake result for %s", req.TableID)
	}
	out := *res
	if out.JobID != "" {
		key := req.Key()
		if _, cached, _ := f.cache.Get(ctx, key); cached {
			out.FromCache = true
		} else if err := f.cache.Save(ctx, key, out.JobID); err != nil {
			return nil, err
		}
		if err := jobs.MarkRetrieved(ctx, f.cache, key); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeWarehouse struct {
	mu      sync.Mutex
	batches []persistence.LoadBatch
	errs    map[string]error
}

func (w *fakeWarehouse) UpsertObservations(_ context.Context, batch persistence.LoadBatch, obs []ffcsv.Observation) (persistence.LoadBatch, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.errs[batch.TableID]; err != nil {
		return persistence.LoadBatch{}, err
	}
	batch.ID = fmt.Sprintf("batch-%d", len(w.batches)+1)
	batch.RowCount = len(obs)
	w.batches = append(w.batches, batch)
	return batch, nil
}

func testPipelines() []config.Pipeline {
	return []config.Pipeline{
		{Name: "flaeche", Source: genesis.SourceRegionalstatistik, Table: "71517-01i", StartYear: 2024, EndYear: 2024},
		{Name: "bevoelkerung", Source: genesis.SourceLandesdatenbank, Table: "12411-01-01-4", StartYear: 2023, EndYear: 2023},
		{Name: "alt", Source: genesis.SourceRegionalstatistik, Table: "99999-01", StartYear: 2000, EndYear: 2001, Disabled: true},
	}
}

type testEnv struct {
	regio     *fakeFetcher
	ldb       *fakeFetcher
	warehouse *fakeWarehouse
	rawDir    string
	runner    *Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		regio:     newFakeFetcher(t, genesis.SourceRegionalstatistik),
		ldb:       newFakeFetcher(t, genesis.SourceLandesdatenbank),
		warehouse: &fakeWarehouse{errs: map[string]error{}},
		rawDir:    filepath.Join(t.TempDir(), "raw"),
	}
	env.regio.results["71517-01i"] = &genesis.Result{Content: flaecheCSV, JobID: "71517-01i_1"}
	env.regio.results["99999-01"] = &genesis.Result{Content: flaecheCSV, JobID: "99999-01_1"}
	env.ldb.results["12411-01-01-4"] = &genesis.Result{Content: flaecheCSV, Synchronous: true}

	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	env.runner = NewRunner([]Fetcher{env.regio, env.ldb}, env.warehouse, testPipelines(), env.rawDir,
		WithClock(func() time.Time { return now }))
	return env
}

func cacheStatus(t *testing.T, store jobs.Store, key jobs.Key) jobs.Status {
	t.Helper()
	all, err := store.List(context.Background())
	require.NoError(t, err)
	entry, ok := all[key.String()]
	require.True(t, ok, "no cache entry for %s", key)
	return entry.Status
}

func TestRunAll_LoadsEnabledPipelines(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.runner.RunAll(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Results, 2, "disabled pipelines are skipped")
	assert.Zero(t, summary.Failed)

	first := summary.Results[0]
	assert.Equal(t, "flaeche", first.Pipeline)
	assert.Equal(t, "2024-2024", first.Period)
	assert.Equal(t, "71517-01i_1", first.JobID)
	assert.Equal(t, 2, first.Rows)
	assert.Equal(t, "batch-1", first.BatchID)

	raw, err := os.ReadFile(first.RawPath)
	require.NoError(t, err)
	assert.Equal(t, flaecheCSV, string(raw))
	assert.Equal(t, filepath.Join(env.rawDir, "regionalstatistik", "71517-01i_2024-2024.csv"), first.RawPath)

	key := jobs.NewKey("71517-01i", "2024-2024")
	assert.Equal(t, jobs.StatusLoaded, cacheStatus(t, env.regio.cache, key))

	// Synchronous results never enter the cache.
	all, err := env.ldb.cache.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	got, ok := env.runner.LastRun()
	require.True(t, ok)
	assert.Len(t, got.Results, 2)
}

func TestRunAll_FailureDoesNotStopOtherPipelines(t *testing.T) {
	env := newTestEnv(t)
	env.regio.errs["71517-01i"] = genesis.NewError(genesis.ErrJobExhausted, "job did not finish")

	summary, err := env.runner.RunAll(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, genesis.IsKind(err, genesis.ErrJobExhausted))
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 2)
	assert.NotEmpty(t, summary.Results[0].Error)
	assert.Empty(t, summary.Results[1].Error)
	assert.Len(t, env.warehouse.batches, 1)
}

func TestRunOne_LoadFailureKeepsHandleForRetry(t *testing.T) {
	env := newTestEnv(t)
	env.warehouse.errs["71517-01i"] = errors.New("database is locked")
	p := testPipelines()[0]

	_, err := env.runner.RunOne(context.Background(), p, false)
	require.Error(t, err)
	key := jobs.NewKey("71517-01i", "2024-2024")
	assert.Equal(t, jobs.StatusRetrieved, cacheStatus(t, env.regio.cache, key))

	delete(env.warehouse.errs, "71517-01i")
	res, err := env.runner.RunOne(context.Background(), p, false)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "second run reuses the cached handle")
	assert.Equal(t, jobs.StatusLoaded, cacheStatus(t, env.regio.cache, key))
}

func TestRunOne_ParseFailure(t *testing.T) {
	env := newTestEnv(t)
	env.regio.results["71517-01i"] = &genesis.Result{Content: "not;a;table\n", JobID: "71517-01i_1"}

	res, err := env.runner.RunOne(context.Background(), testPipelines()[0], false)
	require.Error(t, err)
	assert.Contains(t, res.Error, "parse")
	assert.NotEmpty(t, res.RawPath, "raw dump is written before parsing")
	assert.Empty(t, env.warehouse.batches)
}

func TestRunOne_ForceClearsCachedHandle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := jobs.NewKey("71517-01i", "2024-2024")
	require.NoError(t, env.regio.cache.AddExisting(ctx, key, "stale", jobs.StatusFailed))

	res, err := env.runner.RunOne(ctx, testPipelines()[0], true)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	all, err := env.regio.cache.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "71517-01i_1", all[key.String()].JobID)
}

func TestRunOne_UnknownSource(t *testing.T) {
	env := newTestEnv(t)
	p := config.Pipeline{Name: "x", Source: "destatis", Table: "t", StartYear: 2020, EndYear: 2020}

	_, err := env.runner.RunOne(context.Background(), p, false)
	assert.ErrorContains(t, err, "no client for source")
}

func TestRunAll_SelectsByName(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.runner.RunAll(context.Background(), RunOptions{Names: []string{"alt"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1, "named pipelines run even when disabled")
	assert.Equal(t, "alt", summary.Results[0].Pipeline)

	_, err = env.runner.RunAll(context.Background(), RunOptions{Names: []string{"missing"}})
	assert.ErrorContains(t, err, "unknown pipeline")
}

func TestRunAll_StopsWhenCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := env.runner.RunAll(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Results)
	assert.Zero(t, env.regio.callCount())
}

func TestTrigger_RejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t)
	env.regio.block = make(chan struct{})

	require.True(t, env.runner.Trigger(context.Background(), RunOptions{}))
	require.Eventually(t, env.runner.Running, time.Second, 5*time.Millisecond)
	assert.False(t, env.runner.Trigger(context.Background(), RunOptions{}))

	close(env.regio.block)
	require.Eventually(t, func() bool { return !env.runner.Running() }, time.Second, 5*time.Millisecond)

	_, ok := env.runner.LastRun()
	assert.True(t, ok)
	assert.Equal(t, 1, env.regio.callCount())
}

func TestTrigger_BackToBackKeepsFirstOptions(t *testing.T) {
	env := newTestEnv(t)
	env.regio.block = make(chan struct{})

	first := env.runner.Trigger(context.Background(), RunOptions{Names: []string{"flaeche"}})
	second := env.runner.Trigger(context.Background(), RunOptions{Names: []string{"bevoelkerung"}})
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, env.runner.Running())

	close(env.regio.block)
	require.Eventually(t, func() bool { return !env.runner.Running() }, time.Second, 5*time.Millisecond)

	summary, ok := env.runner.LastRun()
	require.True(t, ok)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "flaeche", summary.Results[0].Pipeline)
	assert.Equal(t, 1, env.regio.callCount())
	assert.Zero(t, env.ldb.callCount())
}

func TestSchedule_SkipsWhileTriggeredRunInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.regio.block = make(chan struct{})
	c := cron.New()

	id, err := env.runner.Schedule(context.Background(), c, "0 3 * * *")
	require.NoError(t, err)

	require.True(t, env.runner.Trigger(context.Background(), RunOptions{Names: []string{"flaeche"}}))
	c.Entry(id).Job.Run()

	close(env.regio.block)
	require.Eventually(t, func() bool { return !env.runner.Running() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.regio.callCount())
	assert.Zero(t, env.ldb.callCount())
}

func TestSchedule_RegistersEntry(t *testing.T) {
	env := newTestEnv(t)
	c := cron.New()

	id, err := env.runner.Schedule(context.Background(), c, "0 3 * * *")
	require.NoError(t, err)
	entry := c.Entry(id)
	assert.True(t, entry.Valid())

	_, err = env.runner.Schedule(context.Background(), c, "not a cron")
	assert.Error(t, err)
}
