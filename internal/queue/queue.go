// Package queue implements a delay-capable job queue with at-least-once
// delivery, keyed by job id, and a worker pool that consumes it.
package queue

import (
	"context"
	"time"
)

// Queue is a job store implementing the delayed → waiting → active →
// completed/failed state machine. Every state change is atomic; in
// particular a job cannot be removed while a worker holds it.
type Queue interface {
	// Add schedules a job. It is idempotent on opts.JobID while the job is
	// live (not completed or failed).
	Add(ctx context.Context, data JobData, opts AddOptions) (*Job, error)
	// GetJob returns nil, nil when no job exists for id.
	GetJob(ctx context.Context, id string) (*Job, error)
	JobState(ctx context.Context, id string) (State, error)
	RemoveJob(ctx context.Context, id string) error
	UpdateJob(ctx context.Context, id string, data JobData) error

	// Promote moves due delayed jobs to waiting.
	Promote(ctx context.Context) (int, error)
	// Claim moves the next waiting job to active and returns it, or nil
	// when none is waiting.
	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, id string) error
	// Retry returns an active job to the delayed state for delay.
	Retry(ctx context.Context, id, reason string, delay time.Duration) error
	Fail(ctx context.Context, id, reason string) error
	// RecoverStalled sweeps jobs that have been active for longer than
	// olderThan. Jobs with attempts left go back to waiting; the rest are
	// failed and returned so their failure can be reported.
	RecoverStalled(ctx context.Context, olderThan time.Duration) (requeued int, failed []*Job, err error)

	Counts(ctx context.Context) (map[State]int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Processor handles a claimed job. Returning an error triggers a retry
// unless the job is out of attempts or the error is Permanent.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// Listener receives job lifecycle events after the queue has recorded them.
type Listener interface {
	JobCompleted(ctx context.Context, job *Job)
	// JobFailed fires once per job, after its final attempt.
	JobFailed(ctx context.Context, job *Job, err error)
}

func attemptsOrDefault(n, def int) int {
	if n > 0 {
		return n
	}
	if def > 0 {
		return def
	}
	return 1
}
