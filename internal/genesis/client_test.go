package genesis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
)

type reply struct {
	httpStatus int
	body       string
}

func envelope(code int, message, content string) reply {
	resp := apiResponse{
		Status: &apiStatus{Code: code, Content: message},
		Object: &apiObject{Content: content},
	}
	data, _ := json.Marshal(resp)
	return reply{httpStatus: http.StatusOK, body: string(data)}
}

// fakeGenesis scripts the two endpoints. The last reply of a script repeats.
type fakeGenesis struct {
	mu          sync.Mutex
	submitQueue []reply
	resultQueue []reply
	submissions []url.Values
	polls       []url.Values
	headers     http.Header
	onPoll      func(n int)
}

func (f *fakeGenesis) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_ = r.ParseForm()
	f.headers = r.Header.Clone()

	var rep reply
	switch r.URL.Path {
	case "/rest/2020/data/tablefile":
		f.submissions = append(f.submissions, r.PostForm)
		rep = next(f.submitQueue, len(f.submissions))
	case "/rest/2020/data/resultfile":
		f.polls = append(f.polls, r.PostForm)
		if f.onPoll != nil {
			f.onPoll(len(f.polls))
		}
		rep = next(f.resultQueue, len(f.polls))
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.httpStatus)
	_, _ = w.Write([]byte(rep.body))
}

func next(queue []reply, n int) reply {
	if len(queue) == 0 {
		return reply{httpStatus: http.StatusInternalServerError, body: "no reply scripted"}
	}
	if n > len(queue) {
		return queue[len(queue)-1]
	}
	return queue[n-1]
}

func (f *fakeGenesis) counts() (submissions, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions), len(f.polls)
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) slept() time.Duration {
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

type testEnv struct {
	fake   *fakeGenesis
	client *Client
	store  *jobs.FileStore
	clock  *fakeClock
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	fake := &fakeGenesis{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := jobs.NewFileStore(filepath.Join(t.TempDir(), "regionalstatistik_jobs.json"),
		SourceRegionalstatistik, "test cache", jobs.WithClock(clock.Now))

	cfg := Config{
		Name:              SourceRegionalstatistik,
		APIURL:            srv.URL + "/rest/2020",
		Username:          "user",
		Password:          "secret",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 0,
		MaxAttempts:       5,
		PollInterval:      10 * time.Second,
		MaxRetries:        2,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg, store,
		WithClock(clock.Now, clock.Sleep),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	require.NoError(t, err)
	return &testEnv{fake: fake, client: client, store: store, clock: clock}
}

func tableRequest() TableRequest {
	return TableRequest{TableID: "71517-01i", StartYear: 2009, EndYear: 2024}
}

func TestClient_SubmitPersistsHandleBeforePolling(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	key := jobs.NewKey("71517-01i", "2009-2024")

	var seen jobs.Entry
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Status: job started: 71517-01i_12345", "")}
	env.fake.resultQueue = []reply{envelope(CodeOK, "ok", "statistics_code;time\n71517;2024\n")}
	env.fake.onPoll = func(n int) {
		if n == 1 {
			all, err := env.store.List(ctx)
			if err == nil {
				seen = all[key.String()]
			}
		}
	}

	res, err := env.client.GetTableData(ctx, tableRequest())
	require.NoError(t, err)
	assert.Equal(t, "71517-01i_12345", res.JobID)
	assert.False(t, res.FromCache)
	assert.Contains(t, res.Content, "71517;2024")

	assert.Equal(t, "71517-01i_12345", seen.JobID, "handle must be cached before the first poll")
	assert.Equal(t, jobs.StatusCreated, seen.Status)

	all, err := env.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRetrieved, all[key.String()].Status)

	jobID, ok, err := env.store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "71517-01i_12345", jobID)
}

func TestClient_PollSucceedsOnThirdAttempt(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: 71517-01i_1", "")}
	env.fake.resultQueue = []reply{
		envelope(CodeProcessing, "in progress", ""),
		envelope(CodeProcessingAlt, "in progress", ""),
		envelope(CodeOK, "ok", "data"),
	}

	res, err := env.client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)
	assert.Equal(t, "data", res.Content)

	_, polls := env.fake.counts()
	assert.Equal(t, 3, polls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, env.clock.sleeps)
}

func TestClient_PollExhaustion(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxAttempts = 4 })
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: 71517-01i_1", "")}
	env.fake.resultQueue = []reply{envelope(CodeProcessing, "in progress", "")}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrJobExhausted))

	_, polls := env.fake.counts()
	assert.Equal(t, 4, polls)
	assert.Len(t, env.clock.sleeps, 3)

	// Exhaustion keeps the handle for the next run.
	all, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCreated, all["71517-01i_2009-2024"].Status)
}

func TestClient_ExpiredHandleStopsPolling(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: 71517-01i_1", "")}
	env.fake.resultQueue = []reply{envelope(CodeJobNotFound, "not found", "")}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrJobNotFound))

	_, polls := env.fake.counts()
	assert.Equal(t, 1, polls)
	assert.Empty(t, env.clock.sleeps)

	all, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, all["71517-01i_2009-2024"].Status)
}

func TestClient_CachedFailureNeverSubmits(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	key := jobs.NewKey("71517-01i", "2009-2024")
	require.NoError(t, env.store.AddExisting(ctx, key, "71517-01i_old", jobs.StatusReady))

	env.fake.submitQueue = []reply{envelope(CodeOK, "sync", "must not be fetched")}
	env.fake.resultQueue = []reply{envelope(CodeJobNotFound, "gone", "")}

	_, err := env.client.GetTableData(ctx, tableRequest())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrCachedJob))
	assert.True(t, IsKind(err, ErrJobNotFound))

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, ErrCachedJob, gerr.Kind)
	assert.Equal(t, "71517-01i_old", gerr.Context["job_id"])
	assert.Contains(t, gerr.Advice(), "clear the cache entry")

	submissions, polls := env.fake.counts()
	assert.Zero(t, submissions)
	assert.Equal(t, 1, polls)

	all, err := env.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, all[key.String()].Status)
}

func TestClient_CachedExhaustionNeverSubmits(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxAttempts = 2 })
	ctx := context.Background()
	require.NoError(t, env.store.Save(ctx, jobs.NewKey("71517-01i", "2009-2024"), "71517-01i_old"))
	env.fake.resultQueue = []reply{envelope(CodeProcessing, "busy", "")}

	_, err := env.client.GetTableData(ctx, tableRequest())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrCachedJob))
	assert.True(t, IsKind(err, ErrJobExhausted))

	submissions, polls := env.fake.counts()
	assert.Zero(t, submissions)
	assert.Equal(t, 2, polls)
}

func TestClient_CachedPollCancelledKeepsEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	key := jobs.NewKey("71517-01i", "2009-2024")
	require.NoError(t, env.store.Save(ctx, key, "71517-01i_old"))
	env.fake.resultQueue = []reply{envelope(CodeProcessing, "busy", "")}
	env.fake.onPoll = func(n int) { cancel() }

	_, err := env.client.GetTableData(ctx, tableRequest())
	require.Error(t, err)

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, ErrCancelled, gerr.Kind)
	assert.False(t, IsKind(err, ErrCachedJob))

	submissions, _ := env.fake.counts()
	assert.Zero(t, submissions)

	all, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCreated, all[key.String()].Status)
}

func TestClient_CachedHandleIsReused(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	key := jobs.NewKey("71517-01i", "2009-2024")
	require.NoError(t, env.store.Save(ctx, key, "71517-01i_12345"))
	env.fake.resultQueue = []reply{envelope(CodeOK, "ok", "cached content")}

	res, err := env.client.GetTableData(ctx, tableRequest())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "cached content", res.Content)
	assert.Equal(t, "71517-01i_12345", res.JobID)

	submissions, _ := env.fake.counts()
	assert.Zero(t, submissions)
	assert.Equal(t, "71517-01i_12345", env.fake.polls[0].Get("name"))

	all, err := env.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRetrieved, all[key.String()].Status)
}

func TestClient_LoadedEntryIsResubmitted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	key := jobs.NewKey("71517-01i", "2009-2024")
	require.NoError(t, env.store.Save(ctx, key, "71517-01i_old"))
	require.NoError(t, jobs.MarkLoaded(ctx, env.store, key))

	env.fake.submitQueue = []reply{envelope(CodeOK, "sync", "fresh")}

	res, err := env.client.GetTableData(ctx, tableRequest())
	require.NoError(t, err)
	assert.True(t, res.Synchronous)
	assert.Equal(t, "fresh", res.Content)

	submissions, polls := env.fake.counts()
	assert.Equal(t, 1, submissions)
	assert.Zero(t, polls)
}

func TestClient_SynchronousResponseIsNotCached(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(CodeOK, "sync", "inline table")}

	res, err := env.client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)
	assert.True(t, res.Synchronous)
	assert.Empty(t, res.JobID)

	all, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClient_SynchronousEmptyContentIsNoData(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(CodeOK, "no data", "")}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrNoData))
}

func TestClient_UnexpectedSubmissionStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(104, "table does not exist", "")}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrUnexpectedStatus))

	submissions, polls := env.fake.counts()
	assert.Equal(t, 1, submissions)
	assert.Zero(t, polls)
}

func TestClient_UnexpectedPollCodeKeepsPolling(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: t_1", "")}
	env.fake.resultQueue = []reply{
		envelope(50, "odd", ""),
		envelope(CodeOK, "ok", "done"),
	}

	res, err := env.client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	assert.Len(t, env.clock.sleeps, 1)
}

func TestClient_MalformedResponse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{{httpStatus: http.StatusOK, body: "<html>maintenance</html>"}}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrMalformedResponse))

	env2 := newTestEnv(t, nil)
	env2.fake.submitQueue = []reply{{httpStatus: http.StatusOK, body: `{"Object":{"Content":"x"}}`}}
	_, err = env2.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrMalformedResponse))
}

func TestClient_JobCreatedWithoutHandle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "job created", "")}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrMalformedResponse))
}

func TestClient_RetriesServiceUnavailable(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxRetries = 3 })
	env.fake.submitQueue = []reply{
		{httpStatus: http.StatusServiceUnavailable, body: "busy"},
		{httpStatus: http.StatusTooManyRequests, body: "slow down"},
		envelope(CodeOK, "sync", "table"),
	}

	res, err := env.client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)
	assert.Equal(t, "table", res.Content)

	submissions, _ := env.fake.counts()
	assert.Equal(t, 3, submissions)
}

func TestClient_RetriesExhaustedIsTransportError(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxRetries = 2 })
	env.fake.submitQueue = []reply{{httpStatus: http.StatusBadGateway, body: "bad gateway"}}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrTransport))

	submissions, _ := env.fake.counts()
	assert.Equal(t, 3, submissions)
}

func TestClient_ZeroMaxRetriesSendsOnce(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxRetries = 0 })
	env.fake.submitQueue = []reply{{httpStatus: http.StatusServiceUnavailable, body: "busy"}}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrTransport))

	submissions, _ := env.fake.counts()
	assert.Equal(t, 1, submissions)
}

func TestClient_ZeroPollIntervalDoesNotWait(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.PollInterval = 0 })
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: t_1", "")}
	env.fake.resultQueue = []reply{
		envelope(CodeProcessing, "busy", ""),
		envelope(CodeOK, "ok", "done"),
	}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0}, env.clock.sleeps)
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.submitQueue = []reply{{httpStatus: http.StatusUnauthorized, body: "bad credentials"}}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	assert.True(t, IsKind(err, ErrTransport))

	submissions, _ := env.fake.counts()
	assert.Equal(t, 1, submissions)
}

func TestClient_SendsCredentialsAndForm(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Language = "en" })
	env.fake.submitQueue = []reply{envelope(CodeOK, "sync", "x")}

	req := tableRequest()
	req.Filters = Filters{
		Classifiers:      []Classifier{{Variable: "GES", Key: "GESM"}},
		RegionalVariable: "KREISE",
		RegionalKey:      "05*",
	}
	_, err := env.client.GetTableData(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "user", env.fake.headers.Get("username"))
	assert.Equal(t, "secret", env.fake.headers.Get("password"))

	form := env.fake.submissions[0]
	assert.Equal(t, "71517-01i", form.Get("name"))
	assert.Equal(t, "all", form.Get("area"))
	assert.Equal(t, "ffcsv", form.Get("format"))
	assert.Equal(t, "true", form.Get("job"))
	assert.Equal(t, "2009", form.Get("startyear"))
	assert.Equal(t, "2024", form.Get("endyear"))
	assert.Equal(t, "en", form.Get("language"))
	assert.Equal(t, "GES", form.Get("classifyingvariable1"))
	assert.Equal(t, "GESM", form.Get("classifyingkey1"))
	assert.Contains(t, form, "classifyingvariable2")
	assert.Empty(t, form.Get("classifyingvariable2"))
	assert.Equal(t, "KREISE", form.Get("regionalvariable"))
	assert.Equal(t, "05*", form.Get("regionalkey"))
}

func TestClient_RateLimitSpacesCalls(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequestsPerMinute = 60 })
	env.fake.submitQueue = []reply{envelope(CodeOK, "sync", "x")}

	const n = 4
	for i := 0; i < n; i++ {
		_, err := env.client.GetTableData(context.Background(), tableRequest())
		require.NoError(t, err)
	}
	// (N-1) * 60s / R
	assert.Equal(t, (n-1)*time.Second, env.clock.slept())
}

func TestClient_RateLimitAppliesToRetries(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequestsPerMinute = 60 })
	env.fake.submitQueue = []reply{
		{httpStatus: http.StatusServiceUnavailable, body: "busy"},
		{httpStatus: http.StatusServiceUnavailable, body: "busy"},
		envelope(CodeOK, "sync", "x"),
	}

	_, err := env.client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)

	submissions, _ := env.fake.counts()
	assert.Equal(t, 3, submissions)
	assert.Equal(t, 2*time.Second, env.clock.slept())
}

func TestClient_SubmitsTrimmedTableID(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: 71517-01i_7", "")}
	env.fake.resultQueue = []reply{envelope(CodeOK, "ok", "payload")}

	req := tableRequest()
	req.TableID = " 71517-01i "
	_, err := env.client.GetTableData(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "71517-01i", env.fake.submissions[0].Get("name"))
	jobID, ok, err := env.store.Get(ctx, jobs.NewKey("71517-01i", "2009-2024"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "71517-01i_7", jobID)
}

func TestClient_CacheWriteFailureDoesNotFailFetch(t *testing.T) {
	fake := &fakeGenesis{
		submitQueue: []reply{envelope(CodeJobCreated, "Job created: t_9", "")},
		resultQueue: []reply{envelope(CodeOK, "ok", "payload")},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	clock := &fakeClock{now: time.Now()}
	client, err := NewClient(Config{Name: "test", APIURL: srv.URL + "/rest/2020"}, failingStore{},
		WithClock(clock.Now, clock.Sleep),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	require.NoError(t, err)

	res, err := client.GetTableData(context.Background(), tableRequest())
	require.NoError(t, err)
	assert.Equal(t, "payload", res.Content)
}

func TestClient_CancelledContext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.client.GetTableData(ctx, tableRequest())
	assert.True(t, IsKind(err, ErrCancelled))
}

func TestClient_CancelStopsPolling(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	env.fake.submitQueue = []reply{envelope(CodeJobCreated, "Job created: t_1", "")}
	env.fake.resultQueue = []reply{envelope(CodeProcessing, "busy", "")}
	env.fake.onPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	_, err := env.client.GetTableData(ctx, tableRequest())
	assert.True(t, IsKind(err, ErrCancelled))

	_, polls := env.fake.counts()
	assert.Equal(t, 2, polls)
}

func TestNewClient_Validation(t *testing.T) {
	store := jobs.NewFileStore(filepath.Join(t.TempDir(), "c.json"), "s", "")

	_, err := NewClient(Config{Name: "x"}, store)
	assert.True(t, IsKind(err, ErrConfig))

	_, err = NewClient(Config{Name: "x", APIURL: "https://example.org"}, nil)
	assert.True(t, IsKind(err, ErrConfig))

	_, err = NewClient(Config{Name: "x", APIURL: "https://example.org"}, store)
	assert.NoError(t, err)
}

func TestGetTableData_InvalidRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.client.GetTableData(context.Background(), TableRequest{TableID: "t", StartYear: 2020, EndYear: 2010})
	assert.True(t, IsKind(err, ErrConfig))

	submissions, _ := env.fake.counts()
	assert.Zero(t, submissions)
}

type failingStore struct{}

var errDisk = errors.New("disk full")

func (failingStore) Get(context.Context, jobs.Key) (string, bool, error) { return "", false, errDisk }
func (failingStore) Save(context.Context, jobs.Key, string) error        { return errDisk }
func (failingStore) UpdateStatus(context.Context, jobs.Key, jobs.Status) error {
	return errDisk
}
func (failingStore) Clear(context.Context, jobs.Key) (bool, error) { return false, errDisk }
func (failingStore) AddExisting(context.Context, jobs.Key, string, jobs.Status) error {
	return errDisk
}
func (failingStore) Put(context.Context, jobs.Entry) error               { return errDisk }
func (failingStore) List(context.Context) (map[string]jobs.Entry, error) { return nil, errDisk }
