package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type funcProcessor func(ctx context.Context, job *Job) error

func (f funcProcessor) Process(ctx context.Context, job *Job) error { return f(ctx, job) }

type recordingListener struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	reasons   []string
	done      chan string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{done: make(chan string, 16)}
}

func (l *recordingListener) JobCompleted(_ context.Context, job *Job) {
	l.mu.Lock()
	l.completed = append(l.completed, job.ID)
	l.mu.Unlock()
	l.done <- job.ID
}

func (l *recordingListener) JobFailed(_ context.Context, job *Job, err error) {
	l.mu.Lock()
	l.failed = append(l.failed, job.ID)
	l.reasons = append(l.reasons, err.Error())
	l.mu.Unlock()
	l.done <- job.ID
}

func testWorkerConfig() Config {
	cfg := DefaultConfig()
	cfg.WorkerCount = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ProcessTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func fastRetry() *RetryStrategy {
	return &RetryStrategy{Schedule: []time.Duration{time.Millisecond}}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job event")
		return ""
	}
}

func startWorker(t *testing.T, q Queue, p Processor, l Listener) *Worker {
	t.Helper()
	w := NewWorker(q, p, l, fastRetry(), testWorkerConfig(), zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestWorker_CompletesJob(t *testing.T) {
	q := NewMemoryQueue(testWorkerConfig())
	l := newRecordingListener()

	var got JobData
	startWorker(t, q, funcProcessor(func(_ context.Context, job *Job) error {
		got = job.Data
		return nil
	}), l)

	mustAdd(t, q, "m1", AddOptions{})
	if id := waitFor(t, l.done); id != "m1" {
		t.Fatalf("event for %s, want m1", id)
	}

	if got.Client != "acme" || got.MessageID != "m1" {
		t.Errorf("processor saw %+v", got)
	}
	if s, _ := q.JobState(context.Background(), "m1"); s != StateCompleted {
		t.Errorf("state = %s, want completed", s)
	}
}

func TestWorker_RetriesThenFails(t *testing.T) {
	q := NewMemoryQueue(testWorkerConfig())
	l := newRecordingListener()

	var (
		mu    sync.Mutex
		calls int
	)
	startWorker(t, q, funcProcessor(func(context.Context, *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("421 service not available")
	}), l)

	mustAdd(t, q, "m1", AddOptions{Attempts: 3})
	waitFor(t, l.done)

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("processor called %d times, want 3", calls)
	}
	if len(l.failed) != 1 || l.reasons[0] != "421 service not available" {
		t.Errorf("failed events = %v %v", l.failed, l.reasons)
	}
	job, _ := q.GetJob(context.Background(), "m1")
	if job.FailedReason != "421 service not available" {
		t.Errorf("FailedReason = %q", job.FailedReason)
	}
}

func TestWorker_PermanentErrorSkipsRetry(t *testing.T) {
	q := NewMemoryQueue(testWorkerConfig())
	l := newRecordingListener()

	var (
		mu    sync.Mutex
		calls int
	)
	startWorker(t, q, funcProcessor(func(context.Context, *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return Permanent(errors.New("550 mailbox unavailable"))
	}), l)

	mustAdd(t, q, "m1", AddOptions{Attempts: 5})
	waitFor(t, l.done)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("processor called %d times, want 1", calls)
	}
	if len(l.failed) != 1 {
		t.Errorf("failed events = %v", l.failed)
	}
}

func TestWorker_PromotesDelayedJobs(t *testing.T) {
	q := NewMemoryQueue(testWorkerConfig())
	l := newRecordingListener()
	startWorker(t, q, funcProcessor(func(context.Context, *Job) error { return nil }), l)

	mustAdd(t, q, "m1", AddOptions{Delay: 20 * time.Millisecond})
	if id := waitFor(t, l.done); id != "m1" {
		t.Fatalf("event for %s, want m1", id)
	}
}

func TestWorker_StopWithoutStart(t *testing.T) {
	w := NewWorker(NewMemoryQueue(DefaultConfig()), funcProcessor(nil), nil, fastRetry(), testWorkerConfig(), zerolog.Nop())
	if err := w.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestWorker_FailsStalledJob(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.StalledTimeout = 10 * time.Millisecond
	q := NewMemoryQueue(cfg)
	l := newRecordingListener()

	mustAdd(t, q, "m1", AddOptions{Attempts: 1})
	// Claimed by a worker that never reports back.
	if job, _ := q.Claim(context.Background()); job == nil {
		t.Fatal("Claim returned nil")
	}

	w := NewWorker(q, funcProcessor(func(context.Context, *Job) error {
		t.Error("stalled job with no attempts left was processed again")
		return nil
	}), l, fastRetry(), cfg, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	if id := waitFor(t, l.done); id != "m1" {
		t.Fatalf("event for %s, want m1", id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.failed) != 1 || l.reasons[0] != ErrJobStalled.Error() {
		t.Errorf("failed=%v reasons=%v, want one stalled failure", l.failed, l.reasons)
	}
}

func TestNewWorker_StalledTimeoutDefault(t *testing.T) {
	tests := []struct {
		name    string
		stalled time.Duration
		process time.Duration
		want    time.Duration
	}{
		{"explicit", 5 * time.Second, 30 * time.Second, 5 * time.Second},
		{"derived from process timeout", 0, 30 * time.Second, time.Minute},
		{"disabled", -1, 30 * time.Second, -1},
		{"no timeouts", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testWorkerConfig()
			cfg.StalledTimeout = tt.stalled
			cfg.ProcessTimeout = tt.process
			w := NewWorker(NewMemoryQueue(cfg), funcProcessor(nil), nil, fastRetry(), cfg, zerolog.Nop())
			if w.config.StalledTimeout != tt.want {
				t.Errorf("StalledTimeout = %s, want %s", w.config.StalledTimeout, tt.want)
			}
		})
	}
}
