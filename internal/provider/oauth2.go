package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const tokenExchangeTimeout = 10 * time.Second

// TokenCache persists access tokens between calls and across replicas.
type TokenCache interface {
	Get(ctx context.Context, key string) (*oauth2.Token, error)
	Set(ctx context.Context, key string, token *oauth2.Token) error
}

// ClientCredentialsTokenSource exchanges client credentials for access tokens and
// caches them until shortly before expiry.
type ClientCredentialsTokenSource struct {
	cache      TokenCache
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClientCredentialsTokenSource(cache TokenCache, logger *zap.Logger) *ClientCredentialsTokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientCredentialsTokenSource{
		cache:      cache,
		httpClient: &http.Client{Timeout: tokenExchangeTimeout},
		logger:     logger,
	}
}

func (s *ClientCredentialsTokenSource) Token(ctx context.Context, key string, auth *domain.OAuth2Auth) (string, error) {
	if auth == nil {
		return "", &DispatchError{Message: "oauth2 credentials are missing"}
	}

	cacheKey := tokenCacheKey(key, auth)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			s.logger.Warn("token cache read failed", zap.Error(err), zap.String("webhookId", key))
		} else if cached != nil && cached.AccessToken != "" {
			return cached.AccessToken, nil
		}
	}

	cfg := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := cfg.Token(exchangeCtx)
	if err != nil {
		transient := !errors.Is(err, context.Canceled)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			transient = isTransientHTTPStatus(retrieveErr.Response.StatusCode)
		}
		return "", &DispatchError{
			Message:   "oauth2 token exchange failed",
			Transient: transient,
			Cause:     err,
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, token); err != nil {
			s.logger.Warn("token cache write failed", zap.Error(err), zap.String("webhookId", key))
		}
	}

	return token.AccessToken, nil
}

// tokenCacheKey scopes cached tokens to the credentials that produced them, so a
// credentials update on the webhook never reuses the old token.
func tokenCacheKey(key string, auth *domain.OAuth2Auth) string {
	return strings.Join([]string{key, auth.ClientID, auth.TokenURL, strings.Join(auth.Scopes, " ")}, "|")
}
