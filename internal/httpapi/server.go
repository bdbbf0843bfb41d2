package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/ffcsv"
	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
	"github.com/MimeLyc/regional-stats-etl/internal/metrics"
	"github.com/MimeLyc/regional-stats-etl/internal/persistence"
	"github.com/MimeLyc/regional-stats-etl/internal/pipeline"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type pipelineRunner interface {
	Pipelines() []config.Pipeline
	Trigger(ctx context.Context, opts pipeline.RunOptions) bool
	Running() bool
	LastRun() (pipeline.Summary, bool)
}

type warehouse interface {
	ListBatches(ctx context.Context, limit int) ([]persistence.LoadBatch, error)
	ObservationsFor(ctx context.Context, tableID string) ([]ffcsv.Observation, error)
}

// Server exposes job cache inspection, run triggers and scheduling state.
type Server struct {
	caches   map[string]jobs.Store
	runner   pipelineRunner
	store    warehouse
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	cronExpr string
	baseCtx  context.Context
	now      func() time.Time

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithRunner(runner pipelineRunner) Option {
	return func(s *Server) {
		s.runner = runner
	}
}

func WithWarehouse(store warehouse) Option {
	return func(s *Server) {
		s.store = store
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithSchedule sets the cron expression reported when no settings store is configured.
func WithSchedule(cronExpr string) Option {
	return func(s *Server) {
		s.cronExpr = cronExpr
	}
}

// WithBaseContext sets the context background runs are started with.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func NewServer(caches map[string]jobs.Store, opts ...Option) *Server {
	s := &Server{
		caches:  caches,
		baseCtx: context.Background(),
		now:     time.Now,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.handleListSources)
		r.Get("/cache/{source}", s.handleListCache)
		r.Post("/cache/{source}", s.handleAddCacheEntry)
		r.Delete("/cache/{source}/{table}/{period}", s.handleClearCacheEntry)
		r.Get("/pipelines", s.handleListPipelines)
		r.Post("/runs", s.handleTriggerRun)
		r.Get("/runs/last", s.handleLastRun)
		r.Get("/batches", s.handleListBatches)
		r.Get("/tables/{table}/observations", s.handleTableObservations)
		r.Get("/schedule", s.handleSchedule)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}
