//go:build integration

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisAddr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}
	redisAddr = fmt.Sprintf("%s:%s", host, port.Port())

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func newRedisTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Prefix = "test-" + t.Name()
	cfg.KeepCompleted = 1
	q := NewRedisQueue(redis.NewClient(&redis.Options{Addr: redisAddr}), cfg)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisQueue_Lifecycle(t *testing.T) {
	q := newRedisTestQueue(t)
	ctx := context.Background()

	job, err := q.Add(ctx, JobData{Client: "acme", MessageID: "m1"}, AddOptions{
		JobID: "m1",
		Meta:  map[string]string{"source": "api"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.Meta["source"] != "api" || job.MaxAttempts != 3 {
		t.Errorf("unexpected job: %+v", job)
	}

	again, err := q.Add(ctx, JobData{Client: "other", MessageID: "m1"}, AddOptions{JobID: "m1"})
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if again.Data.Client != "acme" {
		t.Error("live job payload replaced by resubmission")
	}

	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim = %v, %v", claimed, err)
	}
	if claimed.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", claimed.Attempts)
	}
	if err := claimed.Remove(ctx); !errors.Is(err, ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}

	if err := q.Complete(ctx, "m1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s, _ := q.JobState(ctx, "m1"); s != StateCompleted {
		t.Errorf("state = %s, want completed", s)
	}
	if err := claimed.Update(ctx, JobData{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := q.GetJob(ctx, "m1")
	if !got.Data.IsZero() {
		t.Errorf("payload not cleared: %+v", got.Data)
	}
}

func TestRedisQueue_DelayedRemoveAndPromote(t *testing.T) {
	q := newRedisTestQueue(t)
	ctx := context.Background()

	job, err := q.Add(ctx, JobData{Client: "acme", MessageID: "m2"}, AddOptions{JobID: "m2", Delay: 10 * time.Minute})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s, _ := job.State(ctx); s != StateDelayed {
		t.Fatalf("state = %s, want delayed", s)
	}
	if err := job.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got, _ := q.GetJob(ctx, "m2"); got != nil {
		t.Fatal("job still present after remove")
	}

	if _, err := q.Add(ctx, JobData{Client: "acme", MessageID: "m3"}, AddOptions{JobID: "m3", Delay: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if n, err := q.Promote(ctx); err != nil || n != 1 {
		t.Fatalf("Promote = %d, %v", n, err)
	}
	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[StateWaiting] != 1 || counts[StateDelayed] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRedisQueue_RetryAndFail(t *testing.T) {
	q := newRedisTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, JobData{Client: "acme", MessageID: "m4"}, AddOptions{JobID: "m4", Attempts: 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	job, _ := q.Claim(ctx)
	if err := q.Retry(ctx, job.ID, "421", time.Millisecond); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	_, _ = q.Promote(ctx)
	job, _ = q.Claim(ctx)
	if job == nil || job.Attempts != 2 {
		t.Fatalf("unexpected job after retry: %+v", job)
	}
	if err := q.Fail(ctx, job.ID, "550"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := q.GetJob(ctx, "m4")
	if got.FailedReason != "550" {
		t.Errorf("FailedReason = %q", got.FailedReason)
	}
	if err := q.UpdateJob(ctx, "missing", JobData{}); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRedisQueue_RecoverStalled(t *testing.T) {
	q := newRedisTestQueue(t)
	ctx := context.Background()

	for _, opts := range []AddOptions{{JobID: "retryable"}, {JobID: "last-try", Attempts: 1}} {
		if _, err := q.Add(ctx, JobData{Client: "acme", MessageID: opts.JobID}, opts); err != nil {
			t.Fatalf("Add(%s): %v", opts.JobID, err)
		}
		if job, err := q.Claim(ctx); err != nil || job == nil {
			t.Fatalf("Claim: job=%v err=%v", job, err)
		}
	}
	// An id whose hash has already been deleted.
	if err := q.client.RPush(ctx, q.key("active"), "ghost").Err(); err != nil {
		t.Fatal(err)
	}

	requeued, failed, err := q.RecoverStalled(ctx, time.Hour)
	if err != nil || requeued != 0 || len(failed) != 0 {
		t.Fatalf("sweep with long timeout: requeued=%d failed=%d err=%v", requeued, len(failed), err)
	}

	time.Sleep(20 * time.Millisecond)
	requeued, failed, err = q.RecoverStalled(ctx, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("RecoverStalled: %v", err)
	}
	if requeued != 1 {
		t.Errorf("requeued = %d, want 1", requeued)
	}
	if len(failed) != 1 || failed[0].ID != "last-try" || failed[0].FailedReason != ErrJobStalled.Error() {
		t.Fatalf("failed = %+v, want last-try with stalled reason", failed)
	}

	if s, _ := q.JobState(ctx, "retryable"); s != StateWaiting {
		t.Errorf("retryable state = %s, want waiting", s)
	}
	if s, _ := q.JobState(ctx, "last-try"); s != StateFailed {
		t.Errorf("last-try state = %s, want failed", s)
	}
	if n, _ := q.client.LLen(ctx, q.key("active")).Result(); n != 0 {
		t.Errorf("active list length = %d, want 0", n)
	}

	again, err := q.Claim(ctx)
	if err != nil || again == nil || again.ID != "retryable" || again.Attempts != 2 {
		t.Errorf("reclaimed job = %+v (err %v), want retryable on attempt 2", again, err)
	}
}
