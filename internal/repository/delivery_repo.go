package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/gorm"
)

type DeliveryRepository interface {
	CreateWithAttempts(ctx context.Context, deliveries []*domain.WebhookDelivery, attempts []*domain.DeliveryAttempt) error
	GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	ListByWebhook(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
	Claim(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.WebhookDelivery, error)
	Finalize(ctx context.Context, d *domain.WebhookDelivery, lease time.Time) error
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// CreateWithAttempts saves deliveries and their first attempt rows in one transaction.
func (r *GormDeliveryRepo) CreateWithAttempts(
	ctx context.Context,
	deliveries []*domain.WebhookDelivery,
	attempts []*domain.DeliveryAttempt,
) error {
	models := make([]WebhookDeliveryModel, 0, len(deliveries))
	modelIndexes := make([]int, 0, len(deliveries))
	for i, d := range deliveries {
		model, err := deliveryModelFromDomain(d)
		if err != nil {
			return err
		}
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}
	if len(models) == 0 {
		return nil
	}

	attemptModels := make([]DeliveryAttemptModel, 0, len(attempts))
	for _, a := range attempts {
		if model := attemptModelFromDomain(a); model != nil {
			attemptModels = append(attemptModels, *model)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&models, 100).Error; err != nil {
			return err
		}
		if len(attemptModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&attemptModels, 100).Error
	})
	if err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		saved, err := deliveryModelToDomain(&models[i])
		if err != nil {
			return err
		}
		*deliveries[idx] = *saved
	}
	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	var model WebhookDeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model)
}

func (r *GormDeliveryRepo) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []WebhookDeliveryModel
	err := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveriesToDomain(models)
}

// ListDue returns deliveries due at now without claiming them. Callers claim each
// one with Claim right before dispatching it.
func (r *GormDeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []WebhookDeliveryModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_attempt IS NOT NULL AND next_attempt <= ?", domain.RetryableDeliveryStatuses, now.UTC()).
		Order("next_attempt ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveriesToDomain(models)
}

// Claim leases one due delivery by pushing its next_attempt to leaseUntil. The
// returned delivery is re-read after the claim, so it reflects any progress made
// by an earlier holder. ErrConflict means the delivery is no longer due: another
// sweep holds it or it already reached a terminal status.
func (r *GormDeliveryRepo) Claim(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.WebhookDelivery, error) {
	leaseUntil = LeaseTime(leaseUntil)

	var model WebhookDeliveryModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&WebhookDeliveryModel{}).
			Where("id = ? AND status IN ? AND next_attempt IS NOT NULL AND next_attempt <= ?", id, domain.RetryableDeliveryStatuses, now.UTC()).
			Update("next_attempt", leaseUntil)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model)
}

// Finalize persists the outcome of a dispatch. It applies only while the delivery is
// non-terminal and still carries the lease the caller claimed it with; a delivery
// re-claimed after its lease expired returns ErrConflict.
func (r *GormDeliveryRepo) Finalize(ctx context.Context, d *domain.WebhookDelivery, lease time.Time) error {
	if d == nil {
		return domain.ErrNotFound
	}

	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status IN ? AND next_attempt = ?", d.ID, domain.RetryableDeliveryStatuses, LeaseTime(lease)).
		Updates(map[string]any{
			"status":       d.Status,
			"retry_count":  d.RetryCount,
			"last_error":   d.LastError,
			"last_attempt": d.LastAttempt,
			"next_attempt": d.NextAttempt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// LeaseTime normalises a lease to the precision Postgres stores, so the value a
// claim writes compares equal when Finalize matches on it.
func LeaseTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func deliveriesToDomain(models []WebhookDeliveryModel) ([]domain.WebhookDelivery, error) {
	deliveries := make([]domain.WebhookDelivery, 0, len(models))
	for i := range models {
		d, err := deliveryModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, nil
}
