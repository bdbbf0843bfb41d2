package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/ffcsv"
	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
	"github.com/MimeLyc/regional-stats-etl/internal/metrics"
	"github.com/MimeLyc/regional-stats-etl/internal/persistence"
	"github.com/MimeLyc/regional-stats-etl/pkg/file"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

// Fetcher is the part of genesis.Client a pipeline needs.
type Fetcher interface {
	Source() string
	Cache() jobs.Store
	GetTableData(ctx context.Context, req genesis.TableRequest) (*genesis.Result, error)
}

type Warehouse interface {
	UpsertObservations(ctx context.Context, batch persistence.LoadBatch, obs []ffcsv.Observation) (persistence.LoadBatch, error)
}

type RunOptions struct {
	// Names restricts the run to these pipelines. Empty runs every enabled pipeline.
	Names []string
	// Force drops the cached job handle so the table is submitted again.
	Force bool
}

type RunResult struct {
	Pipeline  string        `json:"pipeline" yaml:"pipeline"`
	Source    string        `json:"source" yaml:"source"`
	TableID   string        `json:"table_id" yaml:"table_id"`
	Period    string        `json:"period" yaml:"period"`
	JobID     string        `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	FromCache bool          `json:"from_cache" yaml:"from_cache"`
	Rows      int           `json:"rows" yaml:"rows"`
	BatchID   string        `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	RawPath   string        `json:"raw_path,omitempty" yaml:"raw_path,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

type Summary struct {
	StartedAt  time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time   `json:"finished_at" yaml:"finished_at"`
	Results    []RunResult `json:"results" yaml:"results"`
	Failed     int         `json:"failed" yaml:"failed"`
}

// Runner fetches, stages and loads the configured pipelines one after another.
type Runner struct {
	fetchers  map[string]Fetcher
	warehouse Warehouse
	pipelines []config.Pipeline
	rawDir    string
	now       func() time.Time

	group   singleflight.Group
	running atomic.Bool

	mu   sync.RWMutex
	last *Summary
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(fetchers []Fetcher, warehouse Warehouse, pipelines []config.Pipeline, rawDir string, opts ...Option) *Runner {
	r := &Runner{
		fetchers:  make(map[string]Fetcher, len(fetchers)),
		warehouse: warehouse,
		pipelines: pipelines,
		rawDir:    rawDir,
		now:       time.Now,
	}
	for _, f := range fetchers {
		r.fetchers[f.Source()] = f
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Pipelines() []config.Pipeline {
	return r.pipelines
}

// Running reports whether a shared run is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// LastRun returns the summary of the most recent completed run, if any.
func (r *Runner) LastRun() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// RunOne runs a single pipeline. The cache entry is marked data_loaded only
// after the warehouse transaction committed.
func (r *Runner) RunOne(ctx context.Context, p config.Pipeline, force bool) (RunResult, error) {
	start := r.now()
	req := p.TableRequest()
	key := req.Key()
	result := RunResult{Pipeline: p.Name, Source: p.Source, TableID: p.Table, Period: key.Period}

	fail := func(err error) (RunResult, error) {
		result.Duration = r.now().Sub(start)
		result.Error = err.Error()
		metrics.IncPipelineRun(p.Name, "failed")
		metrics.ObservePipelineDuration(p.Name, result.Duration)
		return result, err
	}

	fetcher, ok := r.fetchers[p.Source]
	if !ok {
		return fail(fmt.Errorf("pipeline %s: no client for source %q", p.Name, p.Source))
	}

	if force {
		removed, err := fetcher.Cache().Clear(ctx, key)
		if err != nil {
			log.Warn("Pipeline %s: failed to clear cache entry %s: %v", p.Name, key, err)
		} else if removed {
			log.Info("Pipeline %s: cleared cached job for %s", p.Name, key)
		}
	}

	res, err := fetcher.GetTableData(ctx, req)
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: fetch %s: %w", p.Name, key, err))
	}
	result.JobID = res.JobID
	result.FromCache = res.FromCache

	rawPath := filepath.Join(r.rawDir, file.SafeName(p.Source), file.SafeName(key.String())+".csv")
	if err := file.WriteAtomic(rawPath, []byte(res.Content), 0o644); err != nil {
		log.Warn("Pipeline %s: failed to write raw dump %s: %v", p.Name, rawPath, err)
	} else {
		result.RawPath = rawPath
	}

	obs, err := ffcsv.ParseString(p.Table, res.Content)
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: parse %s: %w", p.Name, key, err))
	}

	batch, err := r.warehouse.UpsertObservations(ctx, persistence.LoadBatch{
		Pipeline:  p.Name,
		Source:    p.Source,
		TableID:   p.Table,
		Period:    key.Period,
		JobID:     res.JobID,
		StartedAt: start,
	}, obs)
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: load %s: %w", p.Name, key, err))
	}
	result.BatchID = batch.ID
	result.Rows = batch.RowCount

	if res.JobID != "" {
		if err := jobs.MarkLoaded(ctx, fetcher.Cache(), key); err != nil {
			log.Warn("Pipeline %s: loaded %s but failed to mark cache entry: %v", p.Name, key, err)
		}
	}

	result.Duration = r.now().Sub(start)
	metrics.IncPipelineRun(p.Name, "success")
	metrics.AddRowsLoaded(p.Name, result.Rows)
	metrics.ObservePipelineDuration(p.Name, result.Duration)
	log.Info("Pipeline %s: loaded %d observations of %s (batch %s, cached=%t)",
		p.Name, result.Rows, key, result.BatchID, result.FromCache)
	return result, nil
}

// RunAll runs the selected pipelines sequentially. A failing pipeline does
// not stop the others; all failures are joined into the returned error.
func (r *Runner) RunAll(ctx context.Context, opts RunOptions) (*Summary, error) {
	selected, err := r.selectPipelines(opts.Names)
	if err != nil {
		return nil, err
	}

	summary := &Summary{StartedAt: r.now()}
	var errs []error
	for _, p := range selected {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("run cancelled before pipeline %s: %w", p.Name, err))
			break
		}
		log.Info("Running pipeline %s (%s %s)", p.Name, p.Source, p.Table)
		res, err := r.RunOne(ctx, p, opts.Force)
		summary.Results = append(summary.Results, res)
		if err != nil {
			summary.Failed++
			log.Error("%v", err)
			if advice := adviceFor(err); advice != "" {
				log.Error(" advice: %s", advice)
			}
			errs = append(errs, err)
		}
	}
	summary.FinishedAt = r.now()

	r.mu.Lock()
	r.last = summary
	r.mu.Unlock()

	log.Info("Run finished: %d pipelines, %d failed, took %s",
		len(summary.Results), summary.Failed, summary.FinishedAt.Sub(summary.StartedAt))
	return summary, errors.Join(errs...)
}

func (r *Runner) selectPipelines(names []string) ([]config.Pipeline, error) {
	if len(names) == 0 {
		ret := make([]config.Pipeline, 0, len(r.pipelines))
		for _, p := range r.pipelines {
			if !p.Disabled {
				ret = append(ret, p)
			}
		}
		return ret, nil
	}
	byName := make(map[string]config.Pipeline, len(r.pipelines))
	for _, p := range r.pipelines {
		byName[p.Name] = p
	}
	ret := make([]config.Pipeline, 0, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown pipeline %q", name)
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// claim takes the run slot. Only the holder may call runClaimed.
func (r *Runner) claim() bool {
	return r.running.CompareAndSwap(false, true)
}

func (r *Runner) runClaimed(ctx context.Context, opts RunOptions) {
	_, _, _ = r.group.Do("run", func() (any, error) {
		defer r.running.Store(false)
		_, err := r.RunAll(ctx, opts)
		return nil, err
	})
}

// Trigger starts a run in the background. It returns false when a run is
// already in progress; the rejected options are not queued.
func (r *Runner) Trigger(ctx context.Context, opts RunOptions) bool {
	if !r.claim() {
		return false
	}
	go r.runClaimed(ctx, opts)
	return true
}

// Schedule registers the nightly run with c.
func (r *Runner) Schedule(ctx context.Context, c *cron.Cron, cronExpr string) (cron.EntryID, error) {
	log.Info("Scheduling pipelines with %q", cronExpr)
	return c.AddFunc(cronExpr, func() {
		if !r.claim() {
			log.Warn("Skipping scheduled run, a run is already in progress")
			return
		}
		r.runClaimed(ctx, RunOptions{})
	})
}

func adviceFor(err error) string {
	var gerr *genesis.Error
	if errors.As(err, &gerr) {
		return gerr.Advice()
	}
	return ""
}
