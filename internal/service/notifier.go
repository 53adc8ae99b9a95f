package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultNotifyConcurrency = 8

// Notifier fans an event out to the owner's subscribed webhooks.
type Notifier interface {
	Notify(ctx context.Context, userID string, event string, payload any) ([]domain.WebhookDelivery, error)
}

// DeliveryDispatcher performs one delivery attempt.
type DeliveryDispatcher interface {
	Dispatch(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) DispatchResult
}

type deliveryOutcome string

const (
	outcomeSuccess deliveryOutcome = "success"
	outcomeRetry   deliveryOutcome = "retry"
	outcomeFailed  deliveryOutcome = "failed"
)

type WebhookNotifier struct {
	webhooks    repository.WebhookRepository
	deliveries  repository.DeliveryRepository
	dispatcher  DeliveryDispatcher
	backoff     Backoff
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewWebhookNotifier(
	webhooks repository.WebhookRepository,
	deliveries repository.DeliveryRepository,
	dispatcher DeliveryDispatcher,
	backoff Backoff,
	concurrency int,
	logger *zap.Logger,
) (*WebhookNotifier, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("webhook repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < 1 {
		concurrency = defaultNotifyConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookNotifier{
		webhooks:    webhooks,
		deliveries:  deliveries,
		dispatcher:  dispatcher,
		backoff:     backoff,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *WebhookNotifier) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Notify creates one delivery per active webhook of userID subscribed to event and
// dispatches them concurrently. A failing webhook never blocks the others. All
// deliveries and their first attempt rows are saved together.
func (s *WebhookNotifier) Notify(ctx context.Context, userID string, event string, payload any) ([]domain.WebhookDelivery, error) {
	userID = strings.TrimSpace(userID)
	event = strings.TrimSpace(event)
	if userID == "" || event == "" {
		return nil, fmt.Errorf("%w: user id and event are required", domain.ErrValidation)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON encodable: %v", domain.ErrValidation, err)
	}

	webhooks, err := s.webhooks.ListActiveForEvent(ctx, userID, event)
	if err != nil {
		return nil, persistenceError("list webhooks for event", err)
	}
	if len(webhooks) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	deliveries := make([]*domain.WebhookDelivery, len(webhooks))
	attempts := make([]*domain.DeliveryAttempt, len(webhooks))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range webhooks {
		webhook := &webhooks[i]
		delivery := &domain.WebhookDelivery{
			ID:        uuid.NewString(),
			WebhookID: webhook.ID,
			UserID:    userID,
			Event:     event,
			Payload: domain.DeliveryPayload{
				Event:     event,
				Timestamp: now,
				Payload:   raw,
			},
			Status:     domain.DeliveryStatusPending,
			RetryCount: 0,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		deliveries[i] = delivery

		g.Go(func() error {
			result := s.dispatcher.Dispatch(ctx, webhook, delivery)
			at := s.now().UTC()
			attempts[i] = newAttempt(delivery.ID, 1, result, at)
			outcome := applyDispatchResult(delivery, webhook.MaxRetries, result, at, s.backoff)
			s.recordOutcome(outcome)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.deliveries.CreateWithAttempts(ctx, deliveries, attempts); err != nil {
		s.logger.Error("failed to persist webhook deliveries",
			zap.String("userId", userID),
			zap.String("event", event),
			zap.Int("deliveries", len(deliveries)),
			zap.Error(err),
		)
		return nil, persistenceError("save webhook deliveries", err)
	}

	out := make([]domain.WebhookDelivery, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, *d)
	}

	s.logger.Info("event notified",
		zap.String("userId", userID),
		zap.String("event", event),
		zap.Int("deliveries", len(out)),
	)
	return out, nil
}

func (s *WebhookNotifier) recordOutcome(outcome deliveryOutcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncWebhookDelivery(string(outcome))
	if outcome == outcomeRetry {
		s.metrics.IncWebhookRetryScheduled()
	}
}

// applyDispatchResult moves the delivery along its state machine. A failure retries
// while RetryCount < maxRetries and fails terminally otherwise, leaving RetryCount
// no greater than maxRetries.
func applyDispatchResult(
	d *domain.WebhookDelivery,
	maxRetries int,
	result DispatchResult,
	at time.Time,
	backoff Backoff,
) deliveryOutcome {
	if result.OK() {
		d.MarkSuccess(at)
		return outcomeSuccess
	}

	reason := "dispatch failed"
	if result.Err != nil {
		reason = result.Err.Error()
	}

	if d.RetryCount >= maxRetries {
		// maxRetries may have been lowered after earlier retries were scheduled.
		d.RetryCount = min(d.RetryCount, max(maxRetries, 0))
		d.MarkFailed(at, reason)
		return outcomeFailed
	}

	d.ScheduleRetry(at, backoff.Next(at, d.RetryCount+1), reason)
	return outcomeRetry
}
