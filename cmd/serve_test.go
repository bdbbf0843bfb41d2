package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/pipeline"
)

type fakeScheduler struct {
	called bool
	err    error
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return f.err
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"},
	}
}

func TestRunWithComponents_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := &fakeScheduler{}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), scheduler, cronEngine, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, scheduler.called)
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
}

func TestRunWithComponents_ScheduleError(t *testing.T) {
	scheduler := &fakeScheduler{err: errors.New("invalid cron expression")}
	cronEngine := &fakeCron{}

	err := runWithComponents(context.Background(), testConfig(), scheduler, cronEngine, newFakeHTTP())
	require.Error(t, err)
	assert.False(t, cronEngine.started)
}

func TestRunWithComponents_HTTPFailure(t *testing.T) {
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address already in use")
	cronEngine := &fakeCron{}

	err := runWithComponents(context.Background(), testConfig(), &fakeScheduler{}, cronEngine, httpSrv)
	require.ErrorContains(t, err, "address already in use")
	assert.True(t, cronEngine.stopped)
}

func TestCronScheduler_Reschedule(t *testing.T) {
	runner := pipeline.NewRunner(nil, nil, nil, t.TempDir())
	engine := cron.New()
	sched := &cronScheduler{runner: runner, cron: engine, expr: "0 3 * * *"}

	require.NoError(t, sched.Schedule(context.Background()))
	first := sched.entry
	require.Len(t, engine.Entries(), 1)

	require.NoError(t, sched.Reschedule("30 4 * * *"))
	require.Len(t, engine.Entries(), 1)
	assert.NotEqual(t, first, sched.entry)
	assert.Equal(t, "30 4 * * *", sched.expr)

	require.Error(t, sched.Reschedule("not a cron"))
	assert.Len(t, engine.Entries(), 1)
	assert.Equal(t, "30 4 * * *", sched.expr)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Düss...", truncate("Düsseldorf, Stadt", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
