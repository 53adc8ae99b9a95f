package redis

import (
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenCacheSetGet(t *testing.T) {
	t.Parallel()

	cache, err := NewTokenCache(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewTokenCache() error = %v", err)
	}

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	token := &oauth2.Token{AccessToken: "abc", TokenType: "Bearer", Expiry: now.Add(time.Hour)}
	if err := cache.Set(context.Background(), "wh-1", token); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := cache.Get(context.Background(), "wh-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.AccessToken != "abc" || got.TokenType != "Bearer" {
		t.Fatalf("Get() = %+v, want cached token", got)
	}

	now = now.Add(time.Hour - 10*time.Second)
	got, err = cache.Get(context.Background(), "wh-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() near expiry = %+v, want nil", got)
	}
}

func TestTokenCacheMiss(t *testing.T) {
	t.Parallel()

	cache, err := NewTokenCache(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewTokenCache() error = %v", err)
	}

	got, err := cache.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %+v, want nil", got)
	}
}

func TestTokenCacheSkipsExpiredToken(t *testing.T) {
	t.Parallel()

	cache, err := NewTokenCache(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewTokenCache() error = %v", err)
	}

	now := time.Now()
	expired := &oauth2.Token{AccessToken: "old", Expiry: now.Add(5 * time.Second)}
	if err := cache.Set(context.Background(), "wh-2", expired); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := cache.Get(context.Background(), "wh-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %+v, want nil for token inside expiry skew", got)
	}
}
