package provider

import (
	"context"
	"encoding/json"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

// WebhookSender performs a single outbound webhook call.
type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}

// WebhookRequest is one POST to a subscriber endpoint. TokenKey identifies the
// cached OAuth2 token, normally the webhook id.
type WebhookRequest struct {
	URL      string
	Headers  map[string]string
	Body     []byte
	Auth     *domain.WebhookAuth
	TokenKey string
}

// WebhookResponse stores call metadata for the delivery audit trail.
type WebhookResponse struct {
	StatusCode int
	Body       string
}

// DocumentProcessor extracts structured data from a stored document.
type DocumentProcessor interface {
	Process(ctx context.Context, req ProcessRequest) (json.RawMessage, error)
}

type ProcessRequest struct {
	FileID     string
	FileName   string
	TemplateID string
	Content    []byte
}

// TokenSource returns an OAuth2 access token for a client-credentials configuration.
type TokenSource interface {
	Token(ctx context.Context, key string, auth *domain.OAuth2Auth) (string, error)
}
