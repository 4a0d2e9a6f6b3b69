package queue

import (
	"math/rand/v2"
	"time"
)

// Default retry schedule durations.
var retrySchedule = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// RetryStrategy implements backoff with jitter for failed jobs. The attempt
// budget belongs to each job; the strategy only decides how long to wait.
type RetryStrategy struct {
	Schedule []time.Duration
}

// NewRetryStrategy creates a RetryStrategy with the default schedule.
func NewRetryStrategy() *RetryStrategy {
	return &RetryStrategy{Schedule: retrySchedule}
}

// ShouldRetry reports whether a job that has made attemptsMade attempts may
// be attempted again.
func (r *RetryStrategy) ShouldRetry(attemptsMade, maxAttempts int) bool {
	return attemptsMade < maxAttempts
}

// NextBackoff returns the backoff duration for the given retry number
// (zero-based) with jitter applied: base * (0.5 + rand * 0.5).
func (r *RetryStrategy) NextBackoff(retryCount int) time.Duration {
	if len(r.Schedule) == 0 {
		return 0
	}
	idx := retryCount
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.Schedule) {
		idx = len(r.Schedule) - 1
	}

	base := r.Schedule[idx]
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}
