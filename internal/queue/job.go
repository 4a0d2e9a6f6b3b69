package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the queue-native state of a job. It is independent of the
// message status recorded by the dispatch layer.
type State string

const (
	StateDelayed   State = "delayed"
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// States lists every job state.
var States = []State{StateDelayed, StateWaiting, StateActive, StateCompleted, StateFailed}

var (
	// ErrJobNotFound is returned when no job exists for an id.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrJobActive is returned when removing a job that a worker holds.
	ErrJobActive = errors.New("queue: job is active")
	// ErrJobStalled is the failure reported for a job whose worker stopped
	// reporting before the stalled timeout, with no attempts left.
	ErrJobStalled = errors.New("queue: job stalled")
)

// JobData is the job payload. It identifies a message and never carries its
// content.
type JobData struct {
	Client    string `json:"client,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// IsZero reports whether the payload has been cleared.
func (d JobData) IsZero() bool {
	return d.Client == "" && d.MessageID == ""
}

// AddOptions controls how a job is scheduled.
type AddOptions struct {
	// JobID is the idempotency key. Adding an id that is still live returns
	// the existing job.
	JobID string
	// Delay holds the job in the delayed state before it becomes claimable.
	Delay time.Duration
	// Attempts caps processing attempts. Zero selects the queue default.
	Attempts int
	// Meta is stored with the job and otherwise ignored by the queue.
	Meta map[string]string
}

// Job is a snapshot of a queued job. State is always read live from the
// queue.
type Job struct {
	ID           string
	Data         JobData
	Attempts     int
	MaxAttempts  int
	FailedReason string
	DelayUntil   time.Time
	CreatedAt    time.Time
	ProcessedAt  time.Time
	FinishedAt   time.Time
	Meta         map[string]string

	queue Queue
}

// NewJob returns a job that is not attached to any queue. Its live
// operations report ErrJobNotFound.
func NewJob(id string, data JobData) *Job {
	return &Job{ID: id, Data: data}
}

// State returns the job's current queue state.
func (j *Job) State(ctx context.Context) (State, error) {
	if j.queue == nil {
		return "", ErrJobNotFound
	}
	return j.queue.JobState(ctx, j.ID)
}

// Remove deletes the job from the queue. Removing a job that is already gone
// is not an error; removing an active job returns ErrJobActive.
func (j *Job) Remove(ctx context.Context) error {
	if j.queue == nil {
		return nil
	}
	return j.queue.RemoveJob(ctx, j.ID)
}

// Update replaces the job payload.
func (j *Job) Update(ctx context.Context, data JobData) error {
	if j.queue == nil {
		return ErrJobNotFound
	}
	if err := j.queue.UpdateJob(ctx, j.ID, data); err != nil {
		return err
	}
	j.Data = data
	return nil
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s/%s)", j.ID, j.Data.Client, j.Data.MessageID)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
