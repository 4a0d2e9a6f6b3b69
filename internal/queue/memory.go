package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memJob struct {
	job   Job
	state State
}

// MemoryQueue is an in-process Queue for development and tests. A single
// mutex serialises every state change.
type MemoryQueue struct {
	mu        sync.Mutex
	jobs      map[string]*memJob
	wait      []string
	cfg       Config
	now       func() time.Time
	completed []string
	failed    []string
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		jobs: make(map[string]*memJob),
		cfg:  cfg,
		now:  time.Now,
	}
}

func (q *MemoryQueue) snapshot(mj *memJob) *Job {
	j := mj.job
	if mj.job.Meta != nil {
		j.Meta = make(map[string]string, len(mj.job.Meta))
		for k, v := range mj.job.Meta {
			j.Meta[k] = v
		}
	}
	j.queue = q
	return &j
}

func (q *MemoryQueue) Add(_ context.Context, data JobData, opts AddOptions) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.jobs[opts.JobID]; ok {
		if existing.state != StateCompleted && existing.state != StateFailed {
			JobsAddedTotal.WithLabelValues("existing").Inc()
			return q.snapshot(existing), nil
		}
		q.dropLocked(opts.JobID)
	}

	now := q.now()
	mj := &memJob{job: Job{
		ID:          opts.JobID,
		Data:        data,
		MaxAttempts: attemptsOrDefault(opts.Attempts, q.cfg.DefaultAttempts),
		CreatedAt:   now,
		Meta:        opts.Meta,
	}}
	if opts.Delay > 0 {
		mj.state = StateDelayed
		mj.job.DelayUntil = now.Add(opts.Delay)
	} else {
		mj.state = StateWaiting
		q.wait = append(q.wait, opts.JobID)
	}
	q.jobs[opts.JobID] = mj
	JobsAddedTotal.WithLabelValues("created").Inc()
	return q.snapshot(mj), nil
}

func (q *MemoryQueue) GetJob(_ context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	return q.snapshot(mj), nil
}

func (q *MemoryQueue) JobState(_ context.Context, id string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	return mj.state, nil
}

func (q *MemoryQueue) RemoveJob(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return nil
	}
	if mj.state == StateActive {
		return ErrJobActive
	}
	q.dropLocked(id)
	return nil
}

func (q *MemoryQueue) UpdateJob(_ context.Context, id string, data JobData) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	mj.job.Data = data
	return nil
}

func (q *MemoryQueue) Promote(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []*memJob
	for _, mj := range q.jobs {
		if mj.state == StateDelayed && !mj.job.DelayUntil.After(now) {
			due = append(due, mj)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		return due[i].job.DelayUntil.Before(due[k].job.DelayUntil)
	})
	for _, mj := range due {
		mj.state = StateWaiting
		q.wait = append(q.wait, mj.job.ID)
	}
	return len(due), nil
}

func (q *MemoryQueue) Claim(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.wait) > 0 {
		id := q.wait[0]
		q.wait = q.wait[1:]
		mj, ok := q.jobs[id]
		if !ok || mj.state != StateWaiting {
			continue
		}
		mj.state = StateActive
		mj.job.Attempts++
		mj.job.ProcessedAt = q.now()
		return q.snapshot(mj), nil
	}
	return nil, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	mj.state = StateCompleted
	mj.job.FinishedAt = q.now()
	q.completed = q.retainLocked(append(q.completed, id), q.cfg.KeepCompleted)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, id, reason string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	mj.state = StateDelayed
	mj.job.FailedReason = reason
	mj.job.DelayUntil = q.now().Add(delay)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	mj.state = StateFailed
	mj.job.FailedReason = reason
	mj.job.FinishedAt = q.now()
	q.failed = q.retainLocked(append(q.failed, id), q.cfg.KeepFailed)
	return nil
}

func (q *MemoryQueue) RecoverStalled(_ context.Context, olderThan time.Duration) (int, []*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	var stalled []*memJob
	for _, mj := range q.jobs {
		if mj.state == StateActive && mj.job.ProcessedAt.Before(cutoff) {
			stalled = append(stalled, mj)
		}
	}
	sort.Slice(stalled, func(i, k int) bool {
		return stalled[i].job.ProcessedAt.Before(stalled[k].job.ProcessedAt)
	})

	requeued := 0
	var failed []*Job
	var failedIDs []string
	for _, mj := range stalled {
		mj.job.FailedReason = ErrJobStalled.Error()
		if mj.job.Attempts < mj.job.MaxAttempts {
			mj.state = StateWaiting
			q.wait = append(q.wait, mj.job.ID)
			requeued++
			continue
		}
		mj.state = StateFailed
		mj.job.FinishedAt = q.now()
		failed = append(failed, q.snapshot(mj))
		failedIDs = append(failedIDs, mj.job.ID)
	}
	if len(failedIDs) > 0 {
		q.failed = q.retainLocked(append(q.failed, failedIDs...), q.cfg.KeepFailed)
	}
	return requeued, failed, nil
}

func (q *MemoryQueue) Counts(_ context.Context) (map[State]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[State]int64, len(States))
	for _, s := range States {
		counts[s] = 0
	}
	for _, mj := range q.jobs {
		counts[mj.state]++
	}
	return counts, nil
}

func (q *MemoryQueue) Ping(context.Context) error { return nil }

func (q *MemoryQueue) Close() error { return nil }

// retainLocked trims ids to the newest keep entries, dropping evicted jobs.
func (q *MemoryQueue) retainLocked(ids []string, keep int) []string {
	if keep < 0 || len(ids) <= keep {
		return ids
	}
	evict := ids[:len(ids)-keep]
	for _, id := range evict {
		delete(q.jobs, id)
	}
	return append([]string(nil), ids[len(ids)-keep:]...)
}

func (q *MemoryQueue) dropLocked(id string) {
	delete(q.jobs, id)
	q.wait = without(q.wait, id)
	q.completed = without(q.completed, id)
	q.failed = without(q.failed, id)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
