package repository

import (
	"context"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository stores the audit trail of outbound webhook calls. Attempts are
// append-only; a delivery's lineage is never rewritten.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	GetByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create appends one attempt row and copies the stored values back into a.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a == nil {
		return domain.ErrValidation
	}
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*a = *attemptModelToDomain(model)
	return nil
}

// GetByDeliveryID returns a delivery's attempts oldest first. Attempt numbers grow by
// one per dispatch of the lineage; created_at breaks ties left by a lease takeover,
// where two holders may record the same number.
func (r *GormAttemptRepo) GetByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	if err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("attempt_number ASC").
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, len(models))
	for i := range models {
		attempts[i] = *attemptModelToDomain(&models[i])
	}
	return attempts, nil
}
