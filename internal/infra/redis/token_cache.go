package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const (
	tokenKeyPrefix = "oauth2:token:"
	// tokenExpirySkew keeps a cached token from being served right before it expires.
	tokenExpirySkew = 30 * time.Second
)

type cachedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	Expiry      time.Time `json:"expiry"`
}

// TokenCache stores OAuth2 access tokens in Redis until shortly before they expire.
type TokenCache struct {
	client *goredis.Client
	now    func() time.Time
}

func NewTokenCache(client *goredis.Client) (*TokenCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &TokenCache{client: client, now: time.Now}, nil
}

// Get returns the cached token for key, or nil when there is none.
func (c *TokenCache) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	raw, err := c.client.Get(ctx, tokenKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached token: %w", err)
	}

	var cached cachedToken
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached token: %w", err)
	}
	if !cached.Expiry.IsZero() && !c.now().Add(tokenExpirySkew).Before(cached.Expiry) {
		return nil, nil
	}

	return &oauth2.Token{
		AccessToken: cached.AccessToken,
		TokenType:   cached.TokenType,
		Expiry:      cached.Expiry,
	}, nil
}

// Set caches token under key. Tokens that are already about to expire are not stored.
func (c *TokenCache) Set(ctx context.Context, key string, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return nil
	}

	var ttl time.Duration
	if !token.Expiry.IsZero() {
		ttl = token.Expiry.Sub(c.now()) - tokenExpirySkew
		if ttl <= 0 {
			return nil
		}
	}

	raw, err := json.Marshal(cachedToken{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := c.client.Set(ctx, tokenKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}
	return nil
}

func tokenKey(key string) string {
	return tokenKeyPrefix + strings.TrimSpace(key)
}
