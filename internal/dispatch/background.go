package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/metrics"
)

// background runs follow-up writes that callers do not wait for. Tasks are
// tracked so Close can drain them, and every failure is logged and counted.
type background struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	timeout time.Duration
	log     zerolog.Logger
}

func newBackground(timeout time.Duration, log zerolog.Logger) *background {
	return &background{timeout: timeout, log: log}
}

// Go runs fn detached from ctx's cancellation but keeps its values. After
// close, tasks run inline so none are dropped.
func (b *background) Go(ctx context.Context, task string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.run(ctx, task, fn)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.run(ctx, task, fn)
	}()
}

func (b *background) run(ctx context.Context, task string, fn func(ctx context.Context) error) {
	metrics.DispatchBackgroundTasksInFlight.Inc()
	defer metrics.DispatchBackgroundTasksInFlight.Dec()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		metrics.DispatchBackgroundTasksTotal.WithLabelValues(task, "failure").Inc()
		b.log.Error().Err(err).Str("task", task).Msg("background task failed")
		return
	}
	metrics.DispatchBackgroundTasksTotal.WithLabelValues(task, "success").Inc()
}

// Close stops accepting asynchronous tasks and waits for running ones.
func (b *background) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
