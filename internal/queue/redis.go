package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// RedisQueue stores jobs in Redis. Every state change runs as a Lua script so
// it is atomic with respect to other workers and API callers.
type RedisQueue struct {
	client *redis.Client
	prefix string
	cfg    Config
}

// NewRedisQueue creates a RedisQueue backed by the given Redis client.
func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultConfig().Prefix
	}
	return &RedisQueue{client: client, prefix: prefix, cfg: cfg}
}

func (q *RedisQueue) key(name string) string { return q.prefix + ":" + name }
func (q *RedisQueue) jobKey(id string) string { return q.prefix + ":job:" + id }

func (q *RedisQueue) Add(ctx context.Context, data JobData, opts AddOptions) (*Job, error) {
	if opts.JobID == "" {
		return nil, errors.New("queue: job id is required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}
	meta, err := json.Marshal(opts.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal job meta: %w", err)
	}

	now := time.Now().UnixMilli()
	delayUntil := now
	if opts.Delay > 0 {
		delayUntil = now + opts.Delay.Milliseconds()
	}

	created, err := addScript.Run(ctx, q.client,
		[]string{q.jobKey(opts.JobID), q.key("delayed"), q.key("wait"), q.key("completed"), q.key("failed")},
		q.prefix, opts.JobID, string(payload),
		attemptsOrDefault(opts.Attempts, q.cfg.DefaultAttempts), now, delayUntil, string(meta),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("add job %s: %w", opts.JobID, err)
	}
	if created == 1 {
		JobsAddedTotal.WithLabelValues("created").Inc()
	} else {
		JobsAddedTotal.WithLabelValues("existing").Inc()
	}

	job, err := q.GetJob(ctx, opts.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("add job %s: %w", opts.JobID, ErrJobNotFound)
	}
	return job, nil
}

func (q *RedisQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	job, err := decodeJob(id, fields)
	if err != nil {
		return nil, err
	}
	job.queue = q
	return job, nil
}

func (q *RedisQueue) JobState(ctx context.Context, id string) (State, error) {
	state, err := q.client.HGet(ctx, q.jobKey(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job state %s: %w", id, err)
	}
	return State(state), nil
}

func (q *RedisQueue) RemoveJob(ctx context.Context, id string) error {
	res, err := removeScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("delayed"), q.key("wait"), q.key("completed"), q.key("failed")},
		q.prefix, id,
	).Int()
	if err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	if res == -1 {
		return ErrJobActive
	}
	return nil
}

func (q *RedisQueue) UpdateJob(ctx context.Context, id string, data JobData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}
	res, err := updateScript.Run(ctx, q.client, []string{q.jobKey(id)}, q.prefix, string(payload)).Int()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if res == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *RedisQueue) Promote(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		q.prefix, time.Now().UnixMilli(), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	id, err := claimScript.Run(ctx, q.client,
		[]string{q.key("wait"), q.key("active")},
		q.prefix, time.Now().UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return q.GetJob(ctx, id)
}

func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, StateCompleted, "", q.cfg.KeepCompleted)
}

func (q *RedisQueue) Fail(ctx context.Context, id, reason string) error {
	return q.finish(ctx, id, StateFailed, reason, q.cfg.KeepFailed)
}

func (q *RedisQueue) finish(ctx context.Context, id string, state State, reason string, keep int) error {
	res, err := finishScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("active"), q.key(string(state))},
		q.prefix, id, string(state), time.Now().UnixMilli(), reason, keep,
	).Int()
	if err != nil {
		return fmt.Errorf("move job %s to %s: %w", id, state, err)
	}
	if res == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, id, reason string, delay time.Duration) error {
	until := time.Now().Add(delay).UnixMilli()
	res, err := retryScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("active"), q.key("delayed")},
		q.prefix, id, until, reason,
	).Int()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	if res == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *RedisQueue) RecoverStalled(ctx context.Context, olderThan time.Duration) (int, []*Job, error) {
	now := time.Now()
	res, err := stalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait"), q.key("failed")},
		q.prefix, now.Add(-olderThan).UnixMilli(), now.UnixMilli(), ErrJobStalled.Error(),
	).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("recover stalled jobs: %w", err)
	}
	if len(res) != 2 {
		return 0, nil, fmt.Errorf("recover stalled jobs: unexpected reply %v", res)
	}
	requeued, _ := res[0].(int64)
	ids, _ := res[1].([]any)

	failed := make([]*Job, 0, len(ids))
	for _, raw := range ids {
		id, _ := raw.(string)
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return int(requeued), failed, err
		}
		if job != nil {
			failed = append(failed, job)
		}
	}
	return int(requeued), failed, nil
}

func (q *RedisQueue) Counts(ctx context.Context) (map[State]int64, error) {
	pipe := q.client.Pipeline()
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return map[State]int64{
		StateDelayed:   delayed.Val(),
		StateWaiting:   waiting.Val(),
		StateActive:    active.Val(),
		StateCompleted: completed.Val(),
		StateFailed:    failed.Val(),
	}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func decodeJob(id string, f map[string]string) (*Job, error) {
	job := &Job{
		ID:           id,
		FailedReason: f["failed_reason"],
		Attempts:     atoi(f["attempts"]),
		MaxAttempts:  atoi(f["max_attempts"]),
		DelayUntil:   millis(f["delay_until"]),
		CreatedAt:    millis(f["created_at"]),
		ProcessedAt:  millis(f["processed_at"]),
		FinishedAt:   millis(f["finished_at"]),
	}
	if raw := f["data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Data); err != nil {
			return nil, fmt.Errorf("decode job %s data: %w", id, err)
		}
	}
	if raw := f["meta"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &job.Meta); err != nil {
			return nil, fmt.Errorf("decode job %s meta: %w", id, err)
		}
	}
	return job, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func millis(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}
