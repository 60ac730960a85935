package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 5
	defaultWindow      = time.Second
	maxWaitStep        = time.Second
	keyPrefix          = "whatsapp:ratelimit:"
)

// reserveScript counts a send in the current window. It returns -1 when the
// send is allowed, otherwise the milliseconds left until the window resets.
var reserveScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return -1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
if ttl < 1 then
  ttl = 1
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window limiter shared by every process sending
// through the same robot sessions. The window lives in Redis, so rejected
// callers wait exactly until it expires.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int64
	window time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), defaultWindow, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int64,
	window time.Duration,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = defaultLimitPerSec
	}
	if window < time.Millisecond {
		window = defaultWindow
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		sleep:  sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	wait, err := r.reserve(ctx, key)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until key has room in its window or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait, err := r.reserve(ctx, key)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if wait > maxWaitStep {
			wait = maxWaitStep
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve returns zero when a send may proceed, otherwise the time left in
// the exhausted window.
func (r *RedisRateLimiter) reserve(ctx context.Context, key string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedKey := ratelimit.NormalizeKey(key)
	if normalizedKey == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ms, err := reserveScript.Run(ctx, r.client, []string{keyPrefix + normalizedKey}, r.limit, r.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if ms < 0 {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
