package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	GetAccessible(ctx context.Context, userID string, id string) (*domain.Template, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetAccessible returns the template when it is owned by userID or public.
func (r *GormTemplateRepo) GetAccessible(ctx context.Context, userID string, id string) (*domain.Template, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ? AND (user_id = ? OR public = ?)", id, userID, true))
}

func (r *GormTemplateRepo) first(query *gorm.DB) (*domain.Template, error) {
	var model TemplateModel
	err := query.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}
