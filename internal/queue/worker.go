package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Worker manages a pool of goroutines that claim and process jobs, plus a
// scheduler goroutine that promotes due delayed jobs and recovers jobs left
// active by a worker that died mid-attempt.
type Worker struct {
	queue     Queue
	processor Processor
	listener  Listener
	retry     *RetryStrategy
	config    Config
	log       zerolog.Logger
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewWorker creates a Worker. listener may be nil.
func NewWorker(
	q Queue,
	processor Processor,
	listener Listener,
	retry *RetryStrategy,
	cfg Config,
	log zerolog.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.StalledTimeout == 0 {
		cfg.StalledTimeout = 2 * cfg.ProcessTimeout
	}
	return &Worker{
		queue:     q,
		processor: processor,
		listener:  listener,
		retry:     retry,
		config:    cfg,
		log:       log.With().Str("component", "queue_worker").Logger(),
	}
}

// Start launches the scheduler and the configured number of worker goroutines.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue unavailable: %w", err)
	}

	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.runScheduler(ctx)

	for i := range w.config.WorkerCount {
		w.wg.Add(1)
		go w.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	w.log.Info().
		Int("worker_count", w.config.WorkerCount).
		Dur("poll_interval", w.config.PollInterval).
		Msg("queue worker started")

	return nil
}

// Stop signals all goroutines to stop and waits up to the configured shutdown
// timeout for in-flight jobs to finish.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timeout := w.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}

	select {
	case <-done:
		w.log.Info().Msg("queue worker stopped gracefully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		w.log.Warn().Msg("queue worker shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

func (w *Worker) runScheduler(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		w.recoverStalled(ctx)
		w.promote(ctx)
		w.recordDepth(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) promote(ctx context.Context) {
	n, err := w.queue.Promote(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("promote delayed jobs failed")
		}
		return
	}
	if n > 0 {
		JobsPromotedTotal.Add(float64(n))
		w.log.Debug().Int("count", n).Msg("promoted delayed jobs")
	}
}

func (w *Worker) recoverStalled(ctx context.Context) {
	if w.config.StalledTimeout <= 0 {
		return
	}
	requeued, failed, err := w.queue.RecoverStalled(ctx, w.config.StalledTimeout)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("recover stalled jobs failed")
	}
	if requeued > 0 {
		JobsStalledTotal.WithLabelValues("requeued").Add(float64(requeued))
		w.log.Warn().Int("count", requeued).Msg("requeued stalled jobs")
	}
	for _, job := range failed {
		JobsStalledTotal.WithLabelValues("failed").Inc()
		w.log.Error().
			Str("job_id", job.ID).
			Int("attempt", job.Attempts).
			Msg("stalled job out of attempts")
		if w.listener != nil {
			w.listener.JobFailed(context.WithoutCancel(ctx), job, ErrJobStalled)
		}
	}
}

func (w *Worker) recordDepth(ctx context.Context) {
	counts, err := w.queue.Counts(ctx)
	if err != nil {
		return
	}
	for state, n := range counts {
		QueueDepth.WithLabelValues(string(state)).Set(float64(n))
	}
}

// runWorker is the main loop for a single worker goroutine.
func (w *Worker) runWorker(ctx context.Context, name string) {
	defer w.wg.Done()

	w.log.Debug().Str("consumer", name).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Str("consumer", name).Msg("worker stopping")
			return
		default:
		}

		job, err := w.queue.Claim(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Str("consumer", name).Msg("claim job failed")
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		w.processJob(ctx, name, job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processJob runs the processor for one claimed job and records the outcome.
// State writes use a context detached from shutdown so a finished attempt is
// always recorded.
func (w *Worker) processJob(ctx context.Context, name string, job *Job) {
	start := time.Now()

	processCtx := ctx
	if w.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, w.config.ProcessTimeout)
		defer cancel()
	}

	err := w.processor.Process(processCtx, job)
	JobProcessingDuration.Observe(time.Since(start).Seconds())

	stateCtx := context.WithoutCancel(ctx)
	log := w.log.With().
		Str("consumer", name).
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Logger()

	if err == nil {
		if cerr := w.queue.Complete(stateCtx, job.ID); cerr != nil {
			log.Error().Err(cerr).Msg("failed to mark job completed")
			return
		}
		JobsProcessedTotal.WithLabelValues("completed").Inc()
		if w.listener != nil {
			w.listener.JobCompleted(stateCtx, job)
		}
		return
	}

	if !IsPermanent(err) && w.retry.ShouldRetry(job.Attempts, job.MaxAttempts) {
		backoff := w.retry.NextBackoff(job.Attempts - 1)
		log.Warn().Err(err).Dur("backoff", backoff).Msg("job failed, scheduling retry")
		if rerr := w.queue.Retry(stateCtx, job.ID, err.Error(), backoff); rerr != nil {
			log.Error().Err(rerr).Msg("failed to schedule retry")
			return
		}
		JobsProcessedTotal.WithLabelValues("retried").Inc()
		return
	}

	log.Error().Err(err).Bool("permanent", IsPermanent(err)).Msg("job failed")
	if ferr := w.queue.Fail(stateCtx, job.ID, err.Error()); ferr != nil {
		log.Error().Err(ferr).Msg("failed to mark job failed")
		return
	}
	job.FailedReason = err.Error()
	JobsProcessedTotal.WithLabelValues("failed").Inc()
	if w.listener != nil {
		w.listener.JobFailed(stateCtx, job, err)
	}
}
