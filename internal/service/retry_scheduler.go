package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRetrySweepInterval    = 5 * time.Second
	defaultRetrySweepLimit       = 100
	defaultDeliveryLease         = 2 * time.Minute
	defaultRetrySweepConcurrency = 8
)

type RetrySchedulerOptions struct {
	Interval    time.Duration
	Limit       int
	Lease       time.Duration
	Concurrency int
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Claimed   int
	Skipped   int
	Succeeded int
	Retried   int
	Failed    int
	Errors    int
}

// RetryScheduler periodically re-dispatches deliveries whose next attempt is due.
type RetryScheduler struct {
	deliveries  repository.DeliveryRepository
	webhooks    repository.WebhookRepository
	attempts    repository.AttemptRepository
	dispatcher  DeliveryDispatcher
	backoff     Backoff
	interval    time.Duration
	limit       int
	lease       time.Duration
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRetryScheduler(
	deliveries repository.DeliveryRepository,
	webhooks repository.WebhookRepository,
	attempts repository.AttemptRepository,
	dispatcher DeliveryDispatcher,
	backoff Backoff,
	opts RetrySchedulerOptions,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if webhooks == nil {
		return nil, fmt.Errorf("webhook repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRetrySweepInterval
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultRetrySweepLimit
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultDeliveryLease
	}
	// A send may take up to the webhook timeout; the lease must outlive it.
	if opts.Lease <= domain.MaxWebhookTimeout {
		return nil, fmt.Errorf("delivery lease %s must exceed the maximum webhook timeout %s", opts.Lease, domain.MaxWebhookTimeout)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultRetrySweepConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		deliveries:  deliveries,
		webhooks:    webhooks,
		attempts:    attempts,
		dispatcher:  dispatcher,
		backoff:     backoff,
		interval:    opts.Interval,
		limit:       opts.Limit,
		lease:       opts.Lease,
		concurrency: opts.Concurrency,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so already-due deliveries do not wait for the first ticker edge.
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scheduler initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scheduler sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep lists due deliveries and dispatches each one independently. Each delivery is
// claimed right before it is sent, so a delivery queued behind slow sends is never
// held under an expired lease. A failure on one delivery is logged and counted; it
// never stops the sweep.
func (s *RetryScheduler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	due, err := s.deliveries.ListDue(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return stats, persistenceError("list due deliveries", err)
	}
	if len(due) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range due {
		id := due[i].ID
		webhookID := due[i].WebhookID
		g.Go(func() error {
			outcome, claimed, err := s.claimAndRedeliver(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if claimed {
				stats.Claimed++
			}
			switch {
			case errors.Is(err, errClaimLost):
				stats.Skipped++
				return nil
			case err != nil:
				stats.Errors++
				s.logger.Error("failed to redeliver webhook",
					zap.String("deliveryId", id),
					zap.String("webhookId", webhookID),
					zap.Error(err),
				)
				return nil
			}
			switch outcome {
			case outcomeSuccess:
				stats.Succeeded++
			case outcomeRetry:
				stats.Retried++
			case outcomeFailed:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.AddRetrySweepClaimed(stats.Claimed)
	}
	s.logger.Info("retry sweep finished",
		zap.Int("due", len(due)),
		zap.Int("claimed", stats.Claimed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("retried", stats.Retried),
		zap.Int("failed", stats.Failed),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

var errClaimLost = errors.New("delivery claimed elsewhere")

func (s *RetryScheduler) claimAndRedeliver(ctx context.Context, id string) (deliveryOutcome, bool, error) {
	now := s.now().UTC()
	lease := repository.LeaseTime(now.Add(s.lease))
	delivery, err := s.deliveries.Claim(ctx, id, now, lease)
	if errors.Is(err, domain.ErrConflict) {
		return "", false, errClaimLost
	}
	if err != nil {
		return "", false, persistenceError("claim delivery", err)
	}
	outcome, err := s.redeliver(ctx, delivery, lease)
	return outcome, true, err
}

func (s *RetryScheduler) redeliver(ctx context.Context, delivery *domain.WebhookDelivery, lease time.Time) (deliveryOutcome, error) {
	webhook, err := s.webhooks.GetByID(ctx, delivery.WebhookID)
	if errors.Is(err, domain.ErrNotFound) {
		delivery.MarkFailed(s.now().UTC(), "webhook not found")
		return outcomeFailed, s.finalize(ctx, delivery, lease, outcomeFailed)
	}
	if err != nil {
		return "", persistenceError("load webhook", err)
	}
	if webhook.Status != domain.WebhookStatusActive {
		delivery.MarkFailed(s.now().UTC(), "webhook inactive")
		return outcomeFailed, s.finalize(ctx, delivery, lease, outcomeFailed)
	}

	attemptNumber := delivery.RetryCount + 1
	result := s.dispatcher.Dispatch(ctx, webhook, delivery)
	at := s.now().UTC()
	outcome := applyDispatchResult(delivery, webhook.MaxRetries, result, at, s.backoff)

	if s.attempts != nil {
		if err := s.attempts.Create(ctx, newAttempt(delivery.ID, attemptNumber, result, at)); err != nil {
			s.logger.Warn("failed to record delivery attempt",
				zap.String("deliveryId", delivery.ID),
				zap.Int("attempt", attemptNumber),
				zap.Error(err),
			)
		}
	}

	return outcome, s.finalize(ctx, delivery, lease, outcome)
}

func (s *RetryScheduler) finalize(ctx context.Context, delivery *domain.WebhookDelivery, lease time.Time, outcome deliveryOutcome) error {
	if err := s.deliveries.Finalize(ctx, delivery, lease); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: lease on delivery %s was lost before finalize", domain.ErrConflict, delivery.ID)
		}
		return persistenceError("finalize delivery", err)
	}

	if s.metrics != nil {
		s.metrics.IncWebhookDelivery(string(outcome))
		if outcome == outcomeRetry {
			s.metrics.IncWebhookRetryScheduled()
		}
	}
	return nil
}
