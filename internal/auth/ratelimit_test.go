package auth

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCurrentMonth(t *testing.T) {
	month := currentMonth()
	if len(month) != 7 {
		t.Errorf("currentMonth() = %q, expected format YYYY-MM (length 7)", month)
	}
}

func TestDaysUntilEndOfMonth(t *testing.T) {
	d := daysUntilEndOfMonth()
	if d <= 0 {
		t.Errorf("daysUntilEndOfMonth() = %v, expected positive duration", d)
	}
	if d > 31*24*time.Hour {
		t.Errorf("daysUntilEndOfMonth() = %v, expected less than 31 days", d)
	}
}

func TestSendLimiter_Disabled(t *testing.T) {
	// Unreachable address: a disabled limiter must never dial it.
	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer unreachable.Close()

	tests := []struct {
		name string
		l    *SendLimiter
	}{
		{"nil limiter", nil},
		{"nil client", NewSendLimiter(nil, 100, "")},
		{"zero limit", NewSendLimiter(unreachable, 0, "")},
	}

	ctx := t.Context()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.l.Reserve(ctx, "acme"); err != nil {
				t.Errorf("Reserve() error = %v", err)
			}
			if err := tt.l.Release(ctx, "acme"); err != nil {
				t.Errorf("Release() error = %v", err)
			}
			if n, err := tt.l.Used(ctx, "acme"); err != nil || n != 0 {
				t.Errorf("Used() = %d, %v", n, err)
			}
		})
	}
}

func TestSendLimiter_Key(t *testing.T) {
	l := NewSendLimiter(nil, 10, "")
	want := "mail-dispatch:ratelimit:send:acme:" + currentMonth()
	if got := l.key("acme"); got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}
