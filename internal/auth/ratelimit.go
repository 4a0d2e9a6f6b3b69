package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned when a client has used its monthly send quota.
var ErrQuotaExceeded = errors.New("monthly send limit exceeded")

// SendLimiter enforces a per-client monthly send quota with Redis counters.
type SendLimiter struct {
	client       *redis.Client
	monthlyLimit int
	prefix       string
}

// NewSendLimiter creates a SendLimiter. A nil client or a non-positive limit
// disables the quota.
func NewSendLimiter(client *redis.Client, monthlyLimit int, prefix string) *SendLimiter {
	if prefix == "" {
		prefix = "mail-dispatch"
	}
	return &SendLimiter{
		client:       client,
		monthlyLimit: monthlyLimit,
		prefix:       prefix,
	}
}

func (l *SendLimiter) enabled() bool {
	return l != nil && l.client != nil && l.monthlyLimit > 0
}

func (l *SendLimiter) key(client string) string {
	return fmt.Sprintf("%s:ratelimit:send:%s:%s", l.prefix, client, currentMonth())
}

// Reserve consumes one send from the client's monthly quota. It returns
// ErrQuotaExceeded, leaving the counter unchanged, when the quota is used up.
func (l *SendLimiter) Reserve(ctx context.Context, client string) error {
	if !l.enabled() {
		return nil
	}

	key := l.key(client)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Set expiry to end of current month + 1 day buffer
	pipe.Expire(ctx, key, daysUntilEndOfMonth()+24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reserve send quota: %w", err)
	}

	if int(incr.Val()) > l.monthlyLimit {
		if err := l.client.Decr(ctx, key).Err(); err != nil {
			return fmt.Errorf("release send quota: %w", err)
		}
		return fmt.Errorf("%w (%d/%d)", ErrQuotaExceeded, l.monthlyLimit, l.monthlyLimit)
	}
	return nil
}

// Release returns a reserved send to the quota, for a message that was
// never accepted.
func (l *SendLimiter) Release(ctx context.Context, client string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.client.Decr(ctx, l.key(client)).Err(); err != nil {
		return fmt.Errorf("release send quota: %w", err)
	}
	return nil
}

// Used returns how many sends the client has reserved this month.
func (l *SendLimiter) Used(ctx context.Context, client string) (int, error) {
	if !l.enabled() {
		return 0, nil
	}
	n, err := l.client.Get(ctx, l.key(client)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read send quota: %w", err)
	}
	return n, nil
}

// currentMonth returns the current year-month string (e.g., "2026-02").
func currentMonth() string {
	return time.Now().UTC().Format("2006-01")
}

// daysUntilEndOfMonth returns the duration from now until the end of the current month.
func daysUntilEndOfMonth() time.Duration {
	now := time.Now().UTC()
	year, month, _ := now.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Sub(now)
}
