package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// WebhookStatus represents whether a subscription receives deliveries.
type WebhookStatus string

const (
	WebhookStatusActive   WebhookStatus = "ACTIVE"
	WebhookStatusInactive WebhookStatus = "INACTIVE"
)

func (s WebhookStatus) String() string { return string(s) }

func (s WebhookStatus) IsValid() bool {
	switch s {
	case WebhookStatusActive, WebhookStatusInactive:
		return true
	}
	return false
}

func ParseWebhookStatusFromString(s string) (WebhookStatus, error) {
	st := WebhookStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid webhook status %q", ErrValidation, s)
	}
	return st, nil
}

// AuthType selects the authentication scheme used when calling a webhook.
type AuthType string

const (
	AuthTypeNone   AuthType = "NONE"
	AuthTypeBasic  AuthType = "BASIC"
	AuthTypeOAuth2 AuthType = "OAUTH2"
)

func (a AuthType) String() string { return string(a) }

func (a AuthType) IsValid() bool {
	switch a {
	case AuthTypeNone, AuthTypeBasic, AuthTypeOAuth2:
		return true
	}
	return false
}

func ParseAuthTypeFromString(s string) (AuthType, error) {
	if strings.TrimSpace(s) == "" {
		return AuthTypeNone, nil
	}
	at := AuthType(strings.ToUpper(strings.TrimSpace(s)))
	if !at.IsValid() {
		return "", fmt.Errorf("%w: invalid auth type %q", ErrValidation, s)
	}
	return at, nil
}

// Webhook limits.
const (
	DefaultWebhookMaxRetries = 3
	MaxWebhookMaxRetries     = 20
	DefaultWebhookTimeout    = 10 * time.Second
	MinWebhookTimeout        = time.Second
	MaxWebhookTimeout        = 60 * time.Second
)

// Webhook is a user's subscription to a set of events. EncryptedAuth holds the
// ciphertext of the WebhookAuth matching AuthType.
type Webhook struct {
	ID            string
	UserID        string
	URL           string
	Events        []string
	Status        WebhookStatus
	AuthType      AuthType
	EncryptedAuth string
	Headers       map[string]string
	MaxRetries    int
	Timeout       time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (w *Webhook) Subscribes(event string) bool {
	if w == nil {
		return false
	}
	return slices.Contains(w.Events, event)
}

func (w *Webhook) Validate() error {
	if w == nil {
		return fmt.Errorf("%w: webhook is required", ErrValidation)
	}
	if strings.TrimSpace(w.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := ValidateWebhookURL(w.URL); err != nil {
		return err
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrValidation)
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("%w: invalid webhook status %q", ErrValidation, w.Status)
	}
	if !w.AuthType.IsValid() {
		return fmt.Errorf("%w: invalid auth type %q", ErrValidation, w.AuthType)
	}
	if w.AuthType != AuthTypeNone && w.EncryptedAuth == "" {
		return fmt.Errorf("%w: auth config is required for %s", ErrValidation, w.AuthType)
	}
	if w.MaxRetries < 0 || w.MaxRetries > MaxWebhookMaxRetries {
		return fmt.Errorf("%w: maxRetries must be between 0 and %d", ErrValidation, MaxWebhookMaxRetries)
	}
	if w.Timeout < MinWebhookTimeout || w.Timeout > MaxWebhookTimeout {
		return fmt.Errorf("%w: timeout must be between %s and %s", ErrValidation, MinWebhookTimeout, MaxWebhookTimeout)
	}
	for name := range w.Headers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: header name must not be empty", ErrValidation)
		}
	}
	return nil
}

func ValidateWebhookURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q", ErrValidation, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrValidation)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url host is required", ErrValidation)
	}
	return nil
}

// BasicAuth holds credentials for the BASIC scheme.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OAuth2Auth holds client-credentials settings for the OAUTH2 scheme.
type OAuth2Auth struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	TokenURL     string   `json:"tokenUrl"`
	Scopes       []string `json:"scopes,omitempty"`
}

// WebhookAuth is the decrypted auth descriptor. Exactly the member matching Type is set.
type WebhookAuth struct {
	Type   AuthType    `json:"type"`
	Basic  *BasicAuth  `json:"basic,omitempty"`
	OAuth2 *OAuth2Auth `json:"oauth2,omitempty"`
}

func (a WebhookAuth) Validate() error {
	switch a.Type {
	case AuthTypeNone, "":
		if a.Basic != nil || a.OAuth2 != nil {
			return fmt.Errorf("%w: auth type NONE must not carry credentials", ErrValidation)
		}
		return nil
	case AuthTypeBasic:
		if a.Basic == nil || strings.TrimSpace(a.Basic.Username) == "" {
			return fmt.Errorf("%w: basic auth requires a username", ErrValidation)
		}
		if a.OAuth2 != nil {
			return fmt.Errorf("%w: basic auth must not carry oauth2 settings", ErrValidation)
		}
		return nil
	case AuthTypeOAuth2:
		if a.OAuth2 == nil {
			return fmt.Errorf("%w: oauth2 settings are required", ErrValidation)
		}
		if strings.TrimSpace(a.OAuth2.ClientID) == "" || strings.TrimSpace(a.OAuth2.ClientSecret) == "" {
			return fmt.Errorf("%w: oauth2 requires clientId and clientSecret", ErrValidation)
		}
		if err := ValidateWebhookURL(a.OAuth2.TokenURL); err != nil {
			return fmt.Errorf("%w: invalid oauth2 tokenUrl", ErrValidation)
		}
		if a.Basic != nil {
			return fmt.Errorf("%w: oauth2 auth must not carry basic credentials", ErrValidation)
		}
		return nil
	}
	return fmt.Errorf("%w: invalid auth type %q", ErrValidation, a.Type)
}
