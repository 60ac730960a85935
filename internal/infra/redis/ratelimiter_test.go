package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterWindow(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	limiter, err := newRedisRateLimiter(rdb, 2, time.Second, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if allowed, err := limiter.Allow(ctx, "robot-1"); err != nil || !allowed {
			t.Fatalf("Allow() #%d = %v, %v, want allowed", i+1, allowed, err)
		}
	}

	wait, err := limiter.reserve(ctx, "robot-1")
	if err != nil {
		t.Fatalf("reserve() error = %v", err)
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("reserve() wait = %v, want within the window", wait)
	}

	mr.FastForward(time.Second)
	if allowed, err := limiter.Allow(ctx, "robot-1"); err != nil || !allowed {
		t.Fatalf("Allow() after window = %v, %v, want allowed", allowed, err)
	}
}

func TestRedisRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	limiter, err := newRedisRateLimiter(rdb, 1, time.Second, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	ctx := context.Background()

	testCases := []struct {
		key  string
		want bool
	}{
		{key: "robot-1", want: true},
		{key: "robot-2", want: true},
		{key: " Robot-1 ", want: false},
		{key: "robot-2", want: false},
	}
	for _, tc := range testCases {
		allowed, err := limiter.Allow(ctx, tc.key)
		if err != nil {
			t.Fatalf("Allow(%q) error = %v", tc.key, err)
		}
		if allowed != tc.want {
			t.Fatalf("Allow(%q) = %v, want %v", tc.key, allowed, tc.want)
		}
	}

	if _, err := limiter.Allow(ctx, "   "); err == nil {
		t.Fatal("Allow() expected error for blank key")
	}
}

func TestRedisRateLimiterWaitSleepsUntilWindowExpires(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(rdb, 1, 500*time.Millisecond, func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		mr.FastForward(d)
		return nil
	})
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "robot-3"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first Wait() slept %v, want no sleep", slept)
	}

	if err := limiter.Wait(context.Background(), "robot-3"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if len(slept) != 1 || slept[0] <= 0 || slept[0] > 500*time.Millisecond {
		t.Fatalf("second Wait() slept %v, want one sleep bounded by the window", slept)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	limiter, err := newRedisRateLimiter(rdb, 1, time.Second, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if allowed, err := limiter.Allow(context.Background(), "robot-1"); err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v, want allowed", allowed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "robot-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewRedisRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, 5); err == nil {
		t.Fatal("NewRedisRateLimiter(nil) expected error")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}
