package ratelimit

import "context"

// RateLimiter controls outbound call throughput per key, e.g. one key per webhook.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
