package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/docflow-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 20
	rateLimitWindow    = time.Second
	rateLimitKeyPrefix = "ratelimit:webhook:"
)

// reserveScript admits a call when fewer than limit calls were admitted during the
// sliding window. It returns 0 on admission, otherwise the milliseconds until the
// oldest admitted call leaves the window.
//
// KEYS[1] = sorted set of admitted calls scored by unix millis
// ARGV    = now, window start, limit, member, window length
var reserveScript = goredis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return 0
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + tonumber(ARGV[5]) - tonumber(ARGV[1])
if wait < 1 then
  wait = 1
end
return wait
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a sliding-window limiter shared by every replica that
// dispatches webhooks, keyed per webhook.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limitPerSec,
		window: rateLimitWindow,
		now:    time.Now,
		sleep:  sleepWithContext,
	}, nil
}

// Allow admits one call for key if the window has room.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	wait, err := r.reserve(ctx, key)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until key is admitted or ctx is done, sleeping exactly as long as the
// window says is needed.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		wait, err := r.reserve(ctx, key)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, key string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}

	nowMs := r.now().UnixMilli()
	windowMs := r.window.Milliseconds()
	waitMs, err := reserveScript.Run(ctx, r.client,
		[]string{rateLimitKeyPrefix + normalizedKey},
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-windowMs, 10),
		r.limit,
		uuid.NewString(),
		strconv.FormatInt(windowMs, 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
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
