package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/httpapi"
	"github.com/MimeLyc/regional-stats-etl/internal/pipeline"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

const shutdownTimeout = 30 * time.Second

var serveRunNow bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run pipelines on a schedule and serve the diagnostics API",
	Long: `Run all enabled pipelines on CRON_EXPR and serve the diagnostics API on
HTTP_ADDR. The API exposes the job cache, run triggers, load batches, the
schedule, runtime settings and Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRunNow, "run-now", false, "Start a run immediately instead of waiting for the first tick")
}

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// cronScheduler keeps the runner's cron entry so it can be replaced when the
// schedule is changed at runtime.
type cronScheduler struct {
	runner *pipeline.Runner
	cron   *cron.Cron

	mu    sync.Mutex
	ctx   context.Context
	expr  string
	entry cron.EntryID
}

func (s *cronScheduler) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.runner.Schedule(ctx, s.cron, s.expr)
	if err != nil {
		return err
	}
	s.ctx = ctx
	s.entry = id
	return nil
}

func (s *cronScheduler) Reschedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expr == s.expr {
		return nil
	}
	id, err := s.runner.Schedule(s.ctx, s.cron, expr)
	if err != nil {
		return err
	}
	s.cron.Remove(s.entry)
	s.entry = id
	s.expr = expr
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner()
	if err != nil {
		return err
	}

	engine := cron.New()
	sched := &cronScheduler{
		runner: runner,
		cron:   engine,
		ctx:    ctx,
		expr:   cfg.Schedule.CronExpr,
	}

	settings, err := config.NewRuntimeSettingsStore(cfg.System.SettingsFile, cfg.RuntimeSettings())
	if err != nil {
		return err
	}
	current := cfg.RuntimeSettings()
	apply := func(next config.RuntimeSettings) error {
		if err := sched.Reschedule(next.CronExpr); err != nil {
			return err
		}
		if next.Language != current.Language || next.RequestsPerMinute != current.RequestsPerMinute ||
			next.MaxAttempts != current.MaxAttempts || next.PollInterval != current.PollInterval {
			log.Info("GENESIS client settings saved; they take effect on the next restart")
		}
		return nil
	}

	srv := httpapi.NewServer(a.caches,
		httpapi.WithRunner(runner),
		httpapi.WithWarehouse(a.db),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(apply),
		httpapi.WithSchedule(cfg.Schedule.CronExpr),
		httpapi.WithBaseContext(ctx),
	)

	if serveRunNow {
		runner.Trigger(ctx, pipeline.RunOptions{})
	}
	return runWithComponents(ctx, cfg, sched, engine, srv)
}

// runWithComponents blocks until ctx is cancelled or the HTTP server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	engine.Start()
	defer func() {
		select {
		case <-engine.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("Scheduled run did not finish within %s", shutdownTimeout)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving diagnostics API on %s", cfg.HTTP.Addr)
		err := srv.ListenAndServe(cfg.HTTP.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
