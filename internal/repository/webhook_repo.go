package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/gorm"
)

type WebhookRepository interface {
	Create(ctx context.Context, w *domain.Webhook) error
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	Update(ctx context.Context, w *domain.Webhook) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Webhook, error)
	ListActiveForEvent(ctx context.Context, userID string, event string) ([]domain.Webhook, error)
}

type GormWebhookRepo struct {
	db *gorm.DB
}

func NewGormWebhookRepo(db *gorm.DB) *GormWebhookRepo {
	return &GormWebhookRepo{db: db}
}

func (r *GormWebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	model := webhookModelFromDomain(w)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if w != nil {
		*w = *webhookModelToDomain(model)
	}
	return nil
}

func (r *GormWebhookRepo) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	var model WebhookModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webhookModelToDomain(&model), nil
}

func (r *GormWebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	model := webhookModelFromDomain(w)
	result := r.db.WithContext(ctx).
		Model(&WebhookModel{}).
		Where("id = ?", model.ID).
		Select("url", "events", "status", "auth_type", "encrypted_auth", "headers", "max_retries", "timeout_ms", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&WebhookModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepo) ListByUser(ctx context.Context, userID string) ([]domain.Webhook, error) {
	return r.list(r.db.WithContext(ctx).Where("user_id = ?", userID))
}

// ListActiveForEvent returns the user's ACTIVE webhooks subscribed to event. The event
// set is stored as a JSON column, so membership is checked after loading.
func (r *GormWebhookRepo) ListActiveForEvent(ctx context.Context, userID string, event string) ([]domain.Webhook, error) {
	active, err := r.list(r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.WebhookStatusActive))
	if err != nil {
		return nil, err
	}

	subscribed := active[:0]
	for i := range active {
		if active[i].Subscribes(event) {
			subscribed = append(subscribed, active[i])
		}
	}
	return subscribed, nil
}

func (r *GormWebhookRepo) list(query *gorm.DB) ([]domain.Webhook, error) {
	var models []WebhookModel
	if err := query.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	webhooks := make([]domain.Webhook, 0, len(models))
	for i := range models {
		webhooks = append(webhooks, *webhookModelToDomain(&models[i]))
	}
	return webhooks, nil
}
