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
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDeliveryListLimit = 50
	maxDeliveryListLimit     = 200
)

// WebhookInput carries the writable fields of a webhook. On update, nil pointers,
// nil slices and nil maps keep the stored value.
type WebhookInput struct {
	URL        *string
	Events     []string
	Status     *domain.WebhookStatus
	Auth       *domain.WebhookAuth
	Headers    map[string]string
	MaxRetries *int
	Timeout    *time.Duration
}

// DeliveryDetails is a delivery with its attempt history.
type DeliveryDetails struct {
	Delivery *domain.WebhookDelivery
	Attempts []domain.DeliveryAttempt
}

// WebhookService manages webhook subscriptions and exposes their delivery records.
type WebhookService struct {
	webhooks   repository.WebhookRepository
	deliveries repository.DeliveryRepository
	attempts   repository.AttemptRepository
	encrypter  crypto.Encrypter
	logger     *zap.Logger
	now        func() time.Time
}

func NewWebhookService(
	webhooks repository.WebhookRepository,
	deliveries repository.DeliveryRepository,
	attempts repository.AttemptRepository,
	encrypter crypto.Encrypter,
	logger *zap.Logger,
) (*WebhookService, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("webhook repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if encrypter == nil {
		return nil, fmt.Errorf("encrypter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookService{
		webhooks:   webhooks,
		deliveries: deliveries,
		attempts:   attempts,
		encrypter:  encrypter,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *WebhookService) Create(ctx context.Context, userID string, in WebhookInput) (*domain.Webhook, error) {
	userID = strings.TrimSpace(userID)
	if in.URL == nil {
		return nil, fmt.Errorf("%w: url is required", domain.ErrValidation)
	}

	now := s.now().UTC()
	webhook := &domain.Webhook{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     domain.WebhookStatusActive,
		AuthType:   domain.AuthTypeNone,
		Headers:    map[string]string{},
		MaxRetries: domain.DefaultWebhookMaxRetries,
		Timeout:    domain.DefaultWebhookTimeout,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.apply(webhook, in); err != nil {
		return nil, err
	}

	if err := s.webhooks.Create(ctx, webhook); err != nil {
		return nil, persistenceError("create webhook", err)
	}

	s.logger.Info("webhook created",
		zap.String("webhookId", webhook.ID),
		zap.String("userId", userID),
		zap.Strings("events", webhook.Events),
	)
	return webhook, nil
}

func (s *WebhookService) Update(ctx context.Context, userID string, id string, in WebhookInput) (*domain.Webhook, error) {
	webhook, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if err := s.apply(webhook, in); err != nil {
		return nil, err
	}
	webhook.UpdatedAt = s.now().UTC()

	if err := s.webhooks.Update(ctx, webhook); err != nil {
		return nil, persistenceError("update webhook", err)
	}
	return webhook, nil
}

// Delete removes the subscription. Its deliveries are kept; pending ones fail on the
// next sweep.
func (s *WebhookService) Delete(ctx context.Context, userID string, id string) error {
	webhook, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.webhooks.Delete(ctx, webhook.ID); err != nil {
		return persistenceError("delete webhook", err)
	}

	s.logger.Info("webhook deleted", zap.String("webhookId", webhook.ID))
	return nil
}

func (s *WebhookService) Get(ctx context.Context, userID string, id string) (*domain.Webhook, error) {
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: webhook id is required", domain.ErrValidation)
	}

	webhook, err := s.webhooks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: webhook %s", domain.ErrNotFound, id)
		}
		return nil, persistenceError("load webhook", err)
	}
	if webhook.UserID != userID {
		return nil, fmt.Errorf("%w: webhook %s", domain.ErrNotFound, id)
	}
	return webhook, nil
}

func (s *WebhookService) List(ctx context.Context, userID string) ([]domain.Webhook, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	webhooks, err := s.webhooks.ListByUser(ctx, userID)
	if err != nil {
		return nil, persistenceError("list webhooks", err)
	}
	return webhooks, nil
}

// ListDeliveries returns the newest deliveries of a webhook.
func (s *WebhookService) ListDeliveries(ctx context.Context, userID string, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	webhook, err := s.Get(ctx, userID, webhookID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultDeliveryListLimit
	}
	if limit > maxDeliveryListLimit {
		limit = maxDeliveryListLimit
	}

	deliveries, err := s.deliveries.ListByWebhook(ctx, webhook.ID, limit)
	if err != nil {
		return nil, persistenceError("list deliveries", err)
	}
	return deliveries, nil
}

// GetDelivery returns one delivery and every attempt made for it.
func (s *WebhookService) GetDelivery(ctx context.Context, userID string, deliveryID string) (*DeliveryDetails, error) {
	userID = strings.TrimSpace(userID)
	deliveryID = strings.TrimSpace(deliveryID)
	if userID == "" || deliveryID == "" {
		return nil, fmt.Errorf("%w: user id and delivery id are required", domain.ErrValidation)
	}

	delivery, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: delivery %s", domain.ErrNotFound, deliveryID)
		}
		return nil, persistenceError("load delivery", err)
	}
	if delivery.UserID != userID {
		return nil, fmt.Errorf("%w: delivery %s", domain.ErrNotFound, deliveryID)
	}

	attempts, err := s.attempts.GetByDeliveryID(ctx, delivery.ID)
	if err != nil {
		return nil, persistenceError("list delivery attempts", err)
	}
	return &DeliveryDetails{Delivery: delivery, Attempts: attempts}, nil
}

func (s *WebhookService) apply(webhook *domain.Webhook, in WebhookInput) error {
	if in.URL != nil {
		webhook.URL = strings.TrimSpace(*in.URL)
	}
	if in.Events != nil {
		events, err := domain.NormalizeEvents(in.Events)
		if err != nil {
			return err
		}
		webhook.Events = events
	}
	if in.Status != nil {
		status, err := domain.ParseWebhookStatusFromString(string(*in.Status))
		if err != nil {
			return err
		}
		webhook.Status = status
	}
	if in.Headers != nil {
		headers := make(map[string]string, len(in.Headers))
		for name, value := range in.Headers {
			headers[strings.TrimSpace(name)] = value
		}
		webhook.Headers = headers
	}
	if in.MaxRetries != nil {
		webhook.MaxRetries = *in.MaxRetries
	}
	if in.Timeout != nil {
		webhook.Timeout = *in.Timeout
	}
	if in.Auth != nil {
		if err := s.applyAuth(webhook, *in.Auth); err != nil {
			return err
		}
	}

	return webhook.Validate()
}

func (s *WebhookService) applyAuth(webhook *domain.Webhook, auth domain.WebhookAuth) error {
	if auth.Type == "" {
		auth.Type = domain.AuthTypeNone
	}
	if err := auth.Validate(); err != nil {
		return err
	}

	webhook.AuthType = auth.Type
	if auth.Type == domain.AuthTypeNone {
		webhook.EncryptedAuth = ""
		return nil
	}

	plaintext, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to encode auth config: %w", err)
	}
	ciphertext, err := s.encrypter.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt auth config: %w", err)
	}
	webhook.EncryptedAuth = ciphertext
	return nil
}
