// Package dispatcher runs outline jobs from the queue: resolve the file,
// run the pipeline with retries, store the result and report status.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/local/pdfoutline/internal/fetch"
	"github.com/local/pdfoutline/internal/metrics"
	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/pipeline"
	"github.com/local/pdfoutline/internal/store"
)

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
}

type Runner interface {
	Run(ctx context.Context, pdfPath string, opts ...pipeline.RunOption) (pipeline.Result, error)
}

type Resolver interface {
	Resolve(ctx context.Context, ref, password string) (*fetch.Local, error)
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Progress(ctx context.Context, jobID string, progress int, message string) error
}

type Config struct {
	Concurrency     int
	JobTimeout      time.Duration
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxRetries uint64
	PollTimeout     time.Duration
	IdemTTL         time.Duration
}

// Deps are the worker's collaborators. Breaker is optional.
type Deps struct {
	Queue    Queue
	Pipeline Runner
	Engine   *outline.Engine
	Resolver Resolver
	Status   StatusStore
	Sink     *ResultSink
	Breaker  *CircuitBreaker
}

type Worker struct {
	cfg  Config
	deps Deps

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.IdemTTL <= 0 {
		cfg.IdemTTL = 24 * time.Hour
	}
	return &Worker{cfg: cfg, deps: deps, stop: make(chan struct{})}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop signals the loops and waits for in-flight jobs or ctx.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msgID, data, err := w.deps.Queue.Dequeue(context.Background(), consumer, w.cfg.PollTimeout)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if msgID == "" {
			continue
		}
		w.Handle(context.Background(), msgID, data)
	}
}

// Handle processes one dequeued message. The message is acked first;
// failures are re-queued or dead-lettered explicitly.
func (w *Worker) Handle(ctx context.Context, msgID string, data []byte) {
	if err := w.deps.Queue.Ack(ctx, msgID); err != nil {
		log.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
	}

	job, err := DecodeJob(data)
	if err == nil {
		err = job.Validate()
	}
	if err != nil {
		log.Error().Err(err).Str("msg_id", msgID).Msg("invalid job payload")
		w.deadLetter(ctx, job, data, err)
		return
	}
	logger := log.With().Str("job_id", job.JobID).Int("attempt", job.Attempt).Logger()

	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
		logger.Warn().Msg("job cancelled before processing; skipping")
		return
	}
	if done, _ := w.deps.Queue.IsIdemDone(ctx, job.IdempotencyKey); done {
		logger.Info().Str("idempotency_key", job.IdempotencyKey).Msg("job already done; skipping")
		return
	}
	if w.deps.Breaker != nil {
		if open, wait := w.deps.Breaker.IsOpen(ctx); open {
			logger.Warn().Dur("wait", wait).Msg("embedder breaker open; deferring job")
			w.requeue(ctx, job, wait, "embedder circuit open")
			return
		}
	}

	start := time.Now()
	w.setStatus(ctx, job.JobID, store.Status{
		Status:   store.StatusProcessing,
		Progress: 10,
		Message:  "processing",
		Start:    &start,
		Metadata: map[string]any{"attempt": job.Attempt},
	})

	res, err := w.process(ctx, job)
	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
		logger.Warn().Msg("job cancelled while processing; dropping result")
		metrics.IncProcessed("cancelled")
		return
	}
	if err != nil {
		w.fail(ctx, job, data, err)
		return
	}
	if w.deps.Breaker != nil {
		w.deps.Breaker.Close(ctx)
	}

	meta := map[string]any{
		"pages":    res.Stats.Pages,
		"title":    res.Document.Title,
		"entries":  len(res.Document.Outline),
		"headings": res.Stats.Headings,
	}
	if res.Stats.Skipped != "" {
		meta["skipped"] = res.Stats.Skipped
	}
	if w.deps.Sink != nil {
		saved, err := w.deps.Sink.Save(ctx, job, res.Document)
		if err != nil {
			w.fail(ctx, job, data, fmt.Errorf("save result: %w", err))
			return
		}
		if saved.S3URL != "" {
			meta["result_s3_url"] = saved.S3URL
		}
		if saved.LocalPath != "" {
			meta["result_local_path"] = saved.LocalPath
		}
	}

	end := time.Now()
	w.setStatus(ctx, job.JobID, store.Status{
		Status:   store.StatusSuccess,
		Progress: 100,
		Message:  "completed",
		End:      &end,
		Metadata: meta,
	})
	if err := w.deps.Queue.MarkIdemDone(ctx, job.IdempotencyKey, w.cfg.IdemTTL); err != nil {
		logger.Warn().Err(err).Msg("failed to mark job done")
	}
	result := "success"
	if res.Stats.Skipped != "" {
		result = "skipped"
	}
	metrics.IncProcessed(result)
	logger.Info().Dur("took", end.Sub(start)).Str("result", result).Msg("job completed")
}

// process resolves the file and runs the pipeline, retrying transient
// failures in place.
func (w *Worker) process(ctx context.Context, job Job) (pipeline.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	local, err := w.deps.Resolver.Resolve(ctx, job.FilePath, job.Password)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("resolve %s: %w", job.FilePath, err)
	}
	defer local.Release()
	w.progress(ctx, job.JobID, 20, "file ready")

	opts := []pipeline.RunOption{pipeline.WithJobID(job.JobID)}
	if job.Threshold != nil && w.deps.Engine != nil {
		cfg := w.deps.Engine.Config()
		cfg.HeadingThreshold = *job.Threshold
		eng, err := outline.NewEngine(cfg)
		if err != nil {
			return pipeline.Result{}, invalid("threshold", "%v", err)
		}
		opts = append(opts, pipeline.WithEngine(eng))
	}

	var res pipeline.Result
	backoff := retry.WithMaxRetries(w.cfg.RetryMaxRetries, retry.NewExponential(w.cfg.RetryBaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var runErr error
		res, runErr = w.deps.Pipeline.Run(ctx, local.Path, opts...)
		if runErr != nil && classifyError(runErr) == classTransient {
			metrics.IncRetry()
			log.Warn().Err(runErr).Str("job_id", job.JobID).Msg("transient pipeline error, will retry")
			return retry.RetryableError(runErr)
		}
		return runErr
	})
	if err != nil {
		return pipeline.Result{}, err
	}
	w.progress(ctx, job.JobID, 90, "outline built")
	return res, nil
}

func (w *Worker) fail(ctx context.Context, job Job, data []byte, err error) {
	class := classifyError(err)
	logger := log.With().Str("job_id", job.JobID).Int("attempt", job.Attempt).Str("class", class.String()).Logger()

	if class != classFatal && isEmbedderError(err) && w.deps.Breaker != nil {
		w.deps.Breaker.Open(ctx)
	}
	if class != classFatal && !errors.Is(err, context.Canceled) && job.Attempt < w.cfg.MaxAttempts {
		delay := w.cfg.RetryBaseDelay << job.Attempt
		job.Attempt++
		logger.Warn().Err(err).Dur("delay", delay).Msg("job failed; re-queued")
		w.requeue(ctx, job, delay, err.Error())
		return
	}

	logger.Error().Err(err).Msg("job failed")
	w.deadLetter(ctx, job, data, err)
}

func (w *Worker) requeue(ctx context.Context, job Job, delay time.Duration, reason string) {
	payload, err := job.Encode()
	if err == nil {
		err = w.deps.Queue.EnqueueDelayed(ctx, payload, time.Now().Add(delay))
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to re-queue job")
		w.deadLetter(ctx, job, payload, fmt.Errorf("requeue: %w", err))
		return
	}
	w.setStatus(ctx, job.JobID, store.Status{
		Status:   store.StatusQueued,
		Message:  "retry scheduled: " + reason,
		Metadata: map[string]any{"attempt": job.Attempt},
	})
}

func (w *Worker) deadLetter(ctx context.Context, job Job, data []byte, cause error) {
	if err := w.deps.Queue.AddDLQ(ctx, data, cause.Error()); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to add job to DLQ")
	}
	metrics.IncProcessed("failed")
	if job.JobID == "" {
		return
	}
	end := time.Now()
	w.setStatus(ctx, job.JobID, store.Status{
		Status:   store.StatusFailed,
		Progress: 100,
		Message:  cause.Error(),
		End:      &end,
	})
}

func (w *Worker) setStatus(ctx context.Context, jobID string, st store.Status) {
	if w.deps.Status == nil {
		return
	}
	if err := w.deps.Status.Set(ctx, jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status update failed")
	}
}

func (w *Worker) progress(ctx context.Context, jobID string, p int, msg string) {
	if w.deps.Status == nil {
		return
	}
	if err := w.deps.Status.Progress(ctx, jobID, p, msg); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("progress update failed")
	}
}
