package genesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
	"github.com/MimeLyc/regional-stats-etl/internal/metrics"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

// Client fetches tables from one GENESIS source.
//
// Job handles are persisted in the injected cache before polling starts, so a
// run that dies mid-poll picks up the same server-side job next time instead
// of submitting a new one. A Client is not meant for concurrent use.
type Client struct {
	cfg        Config
	cache      jobs.Store
	httpClient *http.Client
	limiter    *limiter
	newBackOff func() backoff.BackOff

	now   func() time.Time
	sleep func(time.Duration)
}

type Option func(*Client)

// WithClock replaces the wall clock and the blocking sleep used by the rate
// limiter and the poll loop.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBackOff replaces the transport retry policy. The factory is called once per request.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = factory
	}
}

func NewClient(cfg Config, cache jobs.Store, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrConfig, "invalid source configuration", err).
			WithContext("source", cfg.Name)
	}
	if cache == nil {
		return nil, NewError(ErrConfig, "job cache is required").WithContext("source", cfg.Name)
	}

	c := &Client{
		cfg:        cfg,
		cache:      cache,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		newBackOff: defaultBackOff(cfg.RetryBaseDelay),
		now:        time.Now,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = newLimiter(cfg.RequestsPerMinute, c.now, c.sleep)
	return c, nil
}

func (c *Client) Source() string {
	return c.cfg.Name
}

func (c *Client) Cache() jobs.Store {
	return c.cache
}

// GetTableData returns the raw table content for req.
//
// A cached handle is polled and never resubmitted: if it cannot be retrieved
// the call fails with ErrCachedJob and the operator decides what to do.
func (c *Client) GetTableData(ctx context.Context, req TableRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrConfig, "invalid table request", err).
			WithContext("table", req.TableID)
	}
	key := req.Key()

	if jobID, ok := c.cachedJob(ctx, key); ok {
		log.Info("Using cached job %s for %s (%s)", jobID, key, c.cfg.Name)
		content, err := c.retrieveJobResult(ctx, jobID, req.area(), c.cfg.MaxAttempts, c.cfg.PollInterval)
		if err != nil {
			if IsKind(err, ErrJobNotFound) {
				c.markFailed(ctx, key)
			}
			if IsKind(err, ErrCancelled) {
				return nil, err
			}
			cerr := NewErrorWithCause(ErrCachedJob, "cached job could not be retrieved", err).
				WithContext("job_id", jobID).
				WithContext("key", key.String()).
				WithContext("source", c.cfg.Name)
			log.Error("%v\n advice: %s", cerr, cerr.Advice())
			return nil, cerr
		}
		c.markRetrieved(ctx, key)
		return &Result{Content: content, JobID: jobID, FromCache: true}, nil
	}

	return c.submit(ctx, req, key)
}

func (c *Client) submit(ctx context.Context, req TableRequest, key jobs.Key) (*Result, error) {
	log.Info("Submitting table %s for %s to %s", req.TableID, key.Period, c.cfg.Name)
	resp, err := c.call(ctx, pathTableFile, req.submissionForm(c.cfg.Language))
	if err != nil {
		return nil, err
	}

	switch resp.Status.Code {
	case CodeOK:
		content := resp.content()
		if content == "" {
			return nil, NewError(ErrNoData, "synchronous response without content").
				WithContext("key", key.String()).
				WithContext("message", resp.Status.Content)
		}
		log.Info("Table %s returned synchronously", key)
		return &Result{Content: content, Synchronous: true}, nil

	case CodeJobCreated:
		jobID, err := parseJobID(resp.Status.Content)
		if err != nil {
			return nil, NewErrorWithCause(ErrMalformedResponse, "job created without a usable handle", err).
				WithContext("key", key.String())
		}
		log.Info("Job %s created for %s", jobID, key)
		if err := c.cache.Save(ctx, key, jobID); err != nil {
			metrics.IncCacheWriteError(c.cfg.Name)
			log.Error("Failed to cache job %s for %s, continuing without cache: %v", jobID, key, err)
		}

		content, err := c.retrieveJobResult(ctx, jobID, req.area(), c.cfg.MaxAttempts, c.cfg.PollInterval)
		if err != nil {
			if IsKind(err, ErrJobNotFound) {
				c.markFailed(ctx, key)
			}
			return nil, err
		}
		c.markRetrieved(ctx, key)
		return &Result{Content: content, JobID: jobID}, nil

	default:
		return nil, NewError(ErrUnexpectedStatus, "unexpected submission status").
			WithContext("key", key.String()).
			WithContext("code", resp.Status.Code).
			WithContext("message", resp.Status.Content)
	}
}

// retrieveJobResult polls the result endpoint until the job is ready, the
// handle is reported gone or maxAttempts polls have been made.
func (c *Client) retrieveJobResult(ctx context.Context, jobID, area string, maxAttempts int, wait time.Duration) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.sleep(wait)
		}
		if err := ctx.Err(); err != nil {
			return "", NewErrorWithCause(ErrCancelled, "polling cancelled", err).
				WithContext("job_id", jobID).
				WithContext("attempt", attempt)
		}

		resp, err := c.call(ctx, pathResultFile, resultForm(jobID, area, c.cfg.Language))
		if err != nil {
			return "", err
		}

		switch resp.Status.Code {
		case CodeOK:
			content := resp.content()
			if content == "" {
				metrics.IncPollAttempt(c.cfg.Name, "no_data")
				return "", NewError(ErrNoData, "job finished without content").
					WithContext("job_id", jobID).
					WithContext("message", resp.Status.Content)
			}
			metrics.IncPollAttempt(c.cfg.Name, "ready")
			log.Info("Job %s ready after %d attempt(s)", jobID, attempt)
			return content, nil

		case CodeProcessing, CodeProcessingAlt:
			metrics.IncPollAttempt(c.cfg.Name, "processing")
			log.Debug("Job %s still processing (attempt %d/%d)", jobID, attempt, maxAttempts)

		case CodeJobNotFound:
			metrics.IncPollAttempt(c.cfg.Name, "expired")
			return "", NewError(ErrJobNotFound, "job handle not found on server").
				WithContext("job_id", jobID).
				WithContext("message", resp.Status.Content)

		default:
			metrics.IncPollAttempt(c.cfg.Name, "unexpected")
			log.Warn("Job %s returned unexpected code %d (attempt %d/%d): %s",
				jobID, resp.Status.Code, attempt, maxAttempts, resp.Status.Content)
		}
	}

	return "", NewError(ErrJobExhausted, "job not ready within the attempt budget").
		WithContext("job_id", jobID).
		WithContext("attempts", maxAttempts)
}

// call posts the form and decodes the envelope.
func (c *Client) call(ctx context.Context, path string, form url.Values) (*apiResponse, error) {
	endpoint := endpointLabel(path)

	body, err := c.post(ctx, c.cfg.endpoint(path), form)
	if err != nil {
		if ctx.Err() != nil {
			metrics.IncAPIRequest(c.cfg.Name, endpoint, "cancelled")
			return nil, NewErrorWithCause(ErrCancelled, "request cancelled", err).
				WithContext("endpoint", endpoint)
		}
		metrics.IncAPIRequest(c.cfg.Name, endpoint, "transport_error")
		return nil, NewErrorWithCause(ErrTransport, "request failed", err).
			WithContext("endpoint", endpoint).
			WithContext("source", c.cfg.Name)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.IncAPIRequest(c.cfg.Name, endpoint, "malformed")
		log.Error("GENESIS %s returned non-JSON body: %s", endpoint, snippet(string(body)))
		return nil, NewErrorWithCause(ErrMalformedResponse, "response is not JSON", err).
			WithContext("endpoint", endpoint)
	}
	if resp.Status == nil {
		metrics.IncAPIRequest(c.cfg.Name, endpoint, "malformed")
		log.Error("GENESIS %s response has no Status: %s", endpoint, snippet(string(body)))
		return nil, NewError(ErrMalformedResponse, "response has no Status").
			WithContext("endpoint", endpoint)
	}

	metrics.IncAPIRequest(c.cfg.Name, endpoint, "ok")
	return &resp, nil
}

// cachedJob treats cache read errors as a miss.
func (c *Client) cachedJob(ctx context.Context, key jobs.Key) (string, bool) {
	jobID, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		metrics.IncCacheLookup(c.cfg.Name, "error")
		log.Warn("Job cache lookup for %s failed, treating as miss: %v", key, err)
		return "", false
	}
	if !ok {
		metrics.IncCacheLookup(c.cfg.Name, "miss")
		return "", false
	}
	metrics.IncCacheLookup(c.cfg.Name, "hit")
	return jobID, true
}

// markRetrieved and markFailed log and continue when the cache cannot be updated.
func (c *Client) markRetrieved(ctx context.Context, key jobs.Key) {
	if err := jobs.MarkRetrieved(ctx, c.cache, key); err != nil {
		c.cacheUpdateFailed(key, jobs.StatusRetrieved, err)
	}
}

func (c *Client) markFailed(ctx context.Context, key jobs.Key) {
	if err := jobs.MarkFailed(ctx, c.cache, key); err != nil {
		c.cacheUpdateFailed(key, jobs.StatusFailed, err)
	}
}

func (c *Client) cacheUpdateFailed(key jobs.Key, status jobs.Status, err error) {
	metrics.IncCacheWriteError(c.cfg.Name)
	log.Warn("Failed to mark %s as %s: %v", key, status, err)
}

func endpointLabel(path string) string {
	switch path {
	case pathTableFile:
		return "tablefile"
	case pathResultFile:
		return "resultfile"
	default:
		return path
	}
}
