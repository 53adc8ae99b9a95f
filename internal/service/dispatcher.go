package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/docflow-engine/internal/crypto"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/provider"
	"github.com/kursadbilgin/docflow-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// DispatchResult is the outcome of one outbound webhook call.
type DispatchResult struct {
	StatusCode int
	Body       string
	Duration   time.Duration
	Err        error
}

func (r DispatchResult) OK() bool {
	return r.Err == nil
}

// Dispatcher performs a single delivery attempt against a webhook endpoint.
type Dispatcher struct {
	sender      provider.WebhookSender
	decrypter   crypto.Decrypter
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDispatcher(
	sender provider.WebhookSender,
	decrypter crypto.Decrypter,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("webhook sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		sender:      sender,
		decrypter:   decrypter,
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch posts the delivery payload to the webhook. Every failure, including rate
// limiter and auth errors, is reported through DispatchResult.Err as a
// *provider.DispatchError so it counts towards the delivery's retries.
func (d *Dispatcher) Dispatch(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) DispatchResult {
	if webhook == nil || delivery == nil {
		return DispatchResult{Err: &provider.DispatchError{Message: "webhook and delivery are required"}}
	}

	start := d.now()
	result := d.dispatch(ctx, webhook, delivery)
	result.Duration = d.now().Sub(start)
	if d.metrics != nil {
		d.metrics.ObserveWebhookDispatchDuration(result.Duration)
	}

	if result.Err != nil {
		d.logger.Warn("webhook dispatch failed",
			zap.String("webhookId", webhook.ID),
			zap.String("deliveryId", delivery.ID),
			zap.Int("statusCode", result.StatusCode),
			zap.Error(result.Err),
		)
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) DispatchResult {
	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, webhook.ID); err != nil {
			return DispatchResult{Err: &provider.DispatchError{
				Message:   "rate limiter wait failed",
				Transient: true,
				Cause:     err,
			}}
		}
	}

	auth, err := d.resolveAuth(webhook)
	if err != nil {
		return DispatchResult{Err: err}
	}

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return DispatchResult{Err: &provider.DispatchError{Message: "failed to encode payload", Cause: err}}
	}

	timeout := webhook.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultWebhookTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, sendErr := d.sender.Send(callCtx, provider.WebhookRequest{
		URL:      webhook.URL,
		Headers:  webhook.Headers,
		Body:     body,
		Auth:     auth,
		TokenKey: webhook.ID,
	})

	result := DispatchResult{Err: normalizeDispatchError(sendErr)}
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.Body = resp.Body
	}
	var dispatchErr *provider.DispatchError
	if result.StatusCode == 0 && errors.As(result.Err, &dispatchErr) {
		result.StatusCode = dispatchErr.StatusCode
	}
	return result
}

func (d *Dispatcher) resolveAuth(webhook *domain.Webhook) (*domain.WebhookAuth, error) {
	if webhook.AuthType == domain.AuthTypeNone || webhook.AuthType == "" {
		return nil, nil
	}
	if d.decrypter == nil {
		return nil, &provider.DispatchError{Message: "auth decrypter is not configured"}
	}

	plaintext, err := d.decrypter.Decrypt(webhook.EncryptedAuth)
	if err != nil {
		return nil, &provider.DispatchError{Message: "failed to decrypt auth config", Cause: err}
	}

	var auth domain.WebhookAuth
	if err := json.Unmarshal(plaintext, &auth); err != nil {
		return nil, &provider.DispatchError{Message: "failed to decode auth config", Cause: err}
	}
	if auth.Type != webhook.AuthType {
		return nil, &provider.DispatchError{
			Message: fmt.Sprintf("auth config type %q does not match webhook auth type %q", auth.Type, webhook.AuthType),
		}
	}
	if err := auth.Validate(); err != nil {
		return nil, &provider.DispatchError{Message: "invalid auth config", Cause: err}
	}
	return &auth, nil
}

// normalizeDispatchError wraps bare errors, e.g. an exceeded per-call deadline, so
// callers always see a *provider.DispatchError.
func normalizeDispatchError(err error) error {
	if err == nil {
		return nil
	}
	var dispatchErr *provider.DispatchError
	if errors.As(err, &dispatchErr) {
		return err
	}
	return &provider.DispatchError{
		Message:   "webhook call failed",
		Transient: provider.IsTransient(err),
		Cause:     err,
	}
}

// newAttempt builds the audit row for a dispatch result.
func newAttempt(deliveryID string, number int, result DispatchResult, at time.Time) *domain.DeliveryAttempt {
	attempt := &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		DeliveryID:    deliveryID,
		AttemptNumber: number,
		DurationMs:    result.Duration.Milliseconds(),
		CreatedAt:     at.UTC(),
	}
	if result.StatusCode > 0 {
		value := result.StatusCode
		attempt.StatusCode = &value
	}
	if body := strings.TrimSpace(result.Body); body != "" {
		value := result.Body
		attempt.ResponseBody = &value
	}
	if result.Err != nil {
		value := result.Err.Error()
		attempt.Error = &value
	}
	return attempt
}
