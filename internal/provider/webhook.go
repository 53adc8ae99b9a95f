package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

const (
	defaultWebhookTimeout = 60 * time.Second
	userAgent             = "docflow-webhooks/1.0"
)

// WebhookClient posts delivery payloads to subscriber endpoints. The per-webhook
// timeout is carried by the request context; the client timeout is only an upper bound.
type WebhookClient struct {
	client *resty.Client
	tokens TokenSource
}

func NewWebhookClient(tokens TokenSource) *WebhookClient {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookClientWithClient(client, tokens)
}

func NewWebhookClientWithClient(client *resty.Client, tokens TokenSource) *WebhookClient {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)
	client.SetHeader("User-Agent", userAgent)

	return &WebhookClient{
		client: client,
		tokens: tokens,
	}
}

func (c *WebhookClient) Send(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("webhook client is not initialized")
	}

	endpoint := strings.TrimSpace(req.URL)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, &DispatchError{
			Message: "invalid webhook url",
			Cause:   err,
		}
	}

	r := c.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetHeader("Content-Type", "application/json").
		SetBody(req.Body)

	if err := c.applyAuth(ctx, r, req); err != nil {
		return nil, err
	}

	response, err := r.Post(endpoint)
	if err != nil {
		return nil, requestFailure("webhook", err)
	}
	if response == nil {
		return nil, &DispatchError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	result := &WebhookResponse{
		StatusCode: response.StatusCode(),
		Body:       truncate(strings.TrimSpace(response.String()), maxResponseBodyLength),
	}
	if isSuccessStatus(result.StatusCode) {
		return result, nil
	}
	return result, statusFailure(result.StatusCode, result.Body)
}

func (c *WebhookClient) applyAuth(ctx context.Context, r *resty.Request, req WebhookRequest) error {
	if req.Auth == nil {
		return nil
	}

	switch req.Auth.Type {
	case domain.AuthTypeNone, "":
		return nil
	case domain.AuthTypeBasic:
		if req.Auth.Basic == nil {
			return &DispatchError{Message: "basic auth credentials are missing"}
		}
		r.SetBasicAuth(req.Auth.Basic.Username, req.Auth.Basic.Password)
		return nil
	case domain.AuthTypeOAuth2:
		if req.Auth.OAuth2 == nil {
			return &DispatchError{Message: "oauth2 credentials are missing"}
		}
		if c.tokens == nil {
			return &DispatchError{Message: "oauth2 token source is not configured"}
		}
		token, err := c.tokens.Token(ctx, req.TokenKey, req.Auth.OAuth2)
		if err != nil {
			return err
		}
		r.SetAuthToken(token)
		return nil
	default:
		return &DispatchError{Message: fmt.Sprintf("unsupported auth type %q", req.Auth.Type)}
	}
}
