package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GENESIS API
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_api_requests_total",
			Help: "Outbound GENESIS API requests",
		},
		[]string{"source", "endpoint", "outcome"}, // outcome: ok|error
	)
	PollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_poll_attempts_total",
			Help: "Result polls by returned status class",
		},
		[]string{"source", "result"}, // result: ready|no_data|processing|expired|unexpected
	)
	RateLimitWaitSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_rate_limit_wait_seconds_total",
			Help: "Time spent waiting on the client-side rate limit",
		},
		[]string{"source"},
	)

	// Job cache
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_job_cache_lookups_total",
			Help: "Job cache lookups by result",
		},
		[]string{"source", "result"}, // result: hit|miss|error
	)
	CacheWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_job_cache_write_errors_total",
			Help: "Job cache writes that failed and were skipped",
		},
		[]string{"source"},
	)

	// Pipelines
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_pipeline_runs_total",
			Help: "Pipeline runs by result",
		},
		[]string{"pipeline", "result"}, // result: success|failed
	)
	RowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiostat_rows_loaded_total",
			Help: "Observations upserted into the warehouse",
		},
		[]string{"pipeline"},
	)
	PipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regiostat_pipeline_duration_seconds",
			Help:    "Duration of a single pipeline run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s..~34m
		},
		[]string{"pipeline"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequests,
		PollAttempts,
		RateLimitWaitSeconds,

		CacheLookups,
		CacheWriteErrors,

		PipelineRuns,
		RowsLoaded,
		PipelineDurationSeconds,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func IncAPIRequest(source, endpoint, outcome string) {
	APIRequests.WithLabelValues(source, endpoint, outcome).Inc()
}

func IncPollAttempt(source, result string) {
	PollAttempts.WithLabelValues(source, result).Inc()
}

func AddRateLimitWait(source string, d time.Duration) {
	RateLimitWaitSeconds.WithLabelValues(source).Add(d.Seconds())
}

func IncCacheLookup(source, result string) {
	CacheLookups.WithLabelValues(source, result).Inc()
}

func IncCacheWriteError(source string) {
	CacheWriteErrors.WithLabelValues(source).Inc()
}

func IncPipelineRun(pipeline, result string) {
	PipelineRuns.WithLabelValues(pipeline, result).Inc()
}

func AddRowsLoaded(pipeline string, n int) {
	RowsLoaded.WithLabelValues(pipeline).Add(float64(n))
}

func ObservePipelineDuration(pipeline string, d time.Duration) {
	PipelineDurationSeconds.WithLabelValues(pipeline).Observe(d.Seconds())
}
