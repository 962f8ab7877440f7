package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfoutline/internal/embed"
	"github.com/local/pdfoutline/internal/fetch"
	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/pipeline"
	"github.com/local/pdfoutline/internal/queue"
	"github.com/local/pdfoutline/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
	opts  []int
	doc   outline.Document

	// during runs inside Run, before it returns.
	during func()
}

func (f *fakeRunner) Run(_ context.Context, _ string, opts ...pipeline.RunOption) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.opts = append(f.opts, len(opts))
	if f.during != nil {
		f.during()
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return pipeline.Result{}, err
		}
	}
	return pipeline.Result{
		Document: f.doc,
		Stats:    pipeline.Stats{Pages: 2, Headings: f.doc.Counts()},
	}, nil
}

type harness struct {
	w       *Worker
	q       *queue.RedisQueue
	status  *store.RedisStatus
	results *store.ResultStore
	runner  *fakeRunner
	breaker *CircuitBreaker
	pdf     string
	outDir  string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := queue.NewWithClient(context.Background(), client, "jobs:outline", "workers:outline", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	h := &harness{
		q:       q,
		status:  store.NewRedisStatus(client, 0),
		results: store.NewResultStore(client, time.Hour),
		runner: &fakeRunner{doc: outline.Document{
			Title:   "Annual Report",
			Outline: []outline.Entry{{Level: outline.LevelH1, Text: "1. Overview", Page: 2}},
		}},
		breaker: NewCircuitBreaker(client, "embedder", time.Minute, 5*time.Minute),
		pdf:     pdf,
		outDir:  filepath.Join(dir, "results"),
	}
	engine, err := outline.NewEngine(outline.NewConfig(outline.ThresholdPipeline))
	require.NoError(t, err)

	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	h.w = New(cfg, Deps{
		Queue:    q,
		Pipeline: h.runner,
		Engine:   engine,
		Resolver: &fetch.Resolver{TempDir: dir},
		Status:   h.status,
		Sink:     &ResultSink{Results: h.results, ResultDir: h.outDir},
		Breaker:  h.breaker,
	})
	return h
}

func (h *harness) payload(t *testing.T, mutate func(*Job)) []byte {
	t.Helper()
	job := NewJob(h.pdf, "ana", SourceUpload)
	if mutate != nil {
		mutate(&job)
	}
	b, err := job.Encode()
	require.NoError(t, err)
	return b
}

func (h *harness) handle(t *testing.T, payload []byte) {
	t.Helper()
	ctx := context.Background()
	id, err := h.q.Enqueue(ctx, payload)
	require.NoError(t, err)
	msgID, data, err := h.q.Dequeue(ctx, "test", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, id, msgID)
	h.w.Handle(ctx, msgID, data)
}

func jobID(t *testing.T, payload []byte) string {
	t.Helper()
	var j Job
	require.NoError(t, json.Unmarshal(payload, &j))
	return j.JobID
}

func TestHandleSuccess(t *testing.T) {
	h := newHarness(t, Config{})
	payload := h.payload(t, nil)
	id := jobID(t, payload)

	h.handle(t, payload)

	st, ok, err := h.status.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusSuccess, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "Annual Report", st.Metadata["title"])
	assert.Equal(t, LocalResultPath(h.outDir, id), st.Metadata["result_local_path"])

	stored, err := h.results.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"1. Overview"`)

	onDisk, err := os.ReadFile(LocalResultPath(h.outDir, id))
	require.NoError(t, err)
	assert.JSONEq(t, string(stored), string(onDisk))

	h.handle(t, payload)
	assert.Equal(t, 1, h.runner.calls, "idempotent job is not run twice")
}

func TestHandleRetriesTransientInPlace(t *testing.T) {
	h := newHarness(t, Config{RetryMaxRetries: 2})
	h.runner.errs = []error{embed.ErrRateLimited, nil}
	payload := h.payload(t, nil)

	h.handle(t, payload)

	assert.Equal(t, 2, h.runner.calls)
	st, _, err := h.status.Get(context.Background(), jobID(t, payload))
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, st.Status)
}

func TestHandleRequeuesAfterRetriesExhausted(t *testing.T) {
	h := newHarness(t, Config{RetryMaxRetries: 1, MaxAttempts: 3})
	h.runner.errs = []error{embed.ErrRateLimited, embed.ErrRateLimited}
	payload := h.payload(t, nil)
	ctx := context.Background()

	h.handle(t, payload)

	assert.Equal(t, 2, h.runner.calls)
	d, err := h.q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Delayed)
	assert.Equal(t, int64(0), d.DLQ)

	open, wait := h.breaker.IsOpen(ctx)
	assert.True(t, open)
	assert.Greater(t, wait, time.Duration(0))

	st, _, err := h.status.Get(ctx, jobID(t, payload))
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, st.Status)
	assert.Equal(t, float64(2), st.Metadata["attempt"])
}

func TestHandleFatalGoesToDLQ(t *testing.T) {
	h := newHarness(t, Config{RetryMaxRetries: 3})
	h.runner.errs = []error{pipeline.ErrNotPDF}
	payload := h.payload(t, nil)
	ctx := context.Background()

	h.handle(t, payload)

	assert.Equal(t, 1, h.runner.calls)
	d, err := h.q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.DLQ)
	assert.Equal(t, int64(0), d.Delayed)

	st, _, err := h.status.Get(ctx, jobID(t, payload))
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status)

	open, _ := h.breaker.IsOpen(ctx)
	assert.False(t, open)
}

func TestHandleLastAttemptGoesToDLQ(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2})
	h.runner.errs = []error{errors.New("connection reset by peer")}
	payload := h.payload(t, func(j *Job) { j.Attempt = 2 })

	h.handle(t, payload)

	d, err := h.q.Depths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.DLQ)
	assert.Equal(t, int64(0), d.Delayed)
}

func TestHandleSkipsCancelled(t *testing.T) {
	h := newHarness(t, Config{})
	payload := h.payload(t, nil)
	require.NoError(t, h.q.CancelJob(context.Background(), jobID(t, payload)))

	h.handle(t, payload)
	assert.Zero(t, h.runner.calls)
}

func TestHandleDropsResultCancelledMidRun(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	payload := h.payload(t, nil)
	id := jobID(t, payload)
	h.runner.during = func() {
		_ = h.q.CancelJob(ctx, id)
		_ = h.status.Set(ctx, id, store.Status{Status: store.StatusCancelled, Message: "Cancelled"})
	}

	h.handle(t, payload)

	assert.Equal(t, 1, h.runner.calls)
	st, _, err := h.status.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, st.Status)
	_, err = h.results.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrResultNotFound)
	_, err = os.Stat(LocalResultPath(h.outDir, id))
	assert.True(t, os.IsNotExist(err))
	done, err := h.q.IsIdemDone(ctx, "doc:"+id)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestHandleDefersWhenBreakerOpen(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.breaker.Open(ctx)
	payload := h.payload(t, nil)

	h.handle(t, payload)

	assert.Zero(t, h.runner.calls)
	d, err := h.q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Delayed)
}

func TestHandleInvalidPayload(t *testing.T) {
	h := newHarness(t, Config{})

	h.handle(t, []byte("not json"))
	h.handle(t, h.payload(t, func(j *Job) { j.FilePath = "" }))

	d, err := h.q.Depths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.DLQ)
	assert.Zero(t, h.runner.calls)
}

func TestHandleThresholdOverride(t *testing.T) {
	h := newHarness(t, Config{})
	strict := outline.ThresholdStrict
	h.handle(t, h.payload(t, func(j *Job) { j.Threshold = &strict }))
	h.handle(t, h.payload(t, nil))

	assert.Equal(t, []int{2, 1}, h.runner.opts)
}

func TestWorkerStartStop(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 2, PollTimeout: 10 * time.Millisecond})
	payload := h.payload(t, nil)
	id := jobID(t, payload)
	_, err := h.q.Enqueue(context.Background(), payload)
	require.NoError(t, err)

	h.w.Start()
	require.Eventually(t, func() bool {
		st, ok, _ := h.status.Get(context.Background(), id)
		return ok && st.Status == store.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.w.Stop(ctx))
}
