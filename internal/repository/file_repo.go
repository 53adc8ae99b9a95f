package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FileRepository interface {
	GetByID(ctx context.Context, id string) (*domain.FileRecord, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.FileRecord, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, result json.RawMessage) (bool, error)
	Fail(ctx context.Context, id string, reason string) (bool, error)
	GetStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.FileRecord, error)
	Touch(ctx context.Context, id string) error
}

type GormFileRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormFileRepo(db *gorm.DB) *GormFileRepo {
	return &GormFileRepo{db: db, now: time.Now}
}

func (r *GormFileRepo) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	var model FileRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fileModelToDomain(&model), nil
}

func (r *GormFileRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.FileRecord, error) {
	var models []FileRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	files := make([]domain.FileRecord, 0, len(models))
	for i := range models {
		files = append(files, *fileModelToDomain(&models[i]))
	}
	return files, nil
}

// MarkProcessing moves a PENDING file to PROCESSING. It reports false when the file
// was in any other state.
func (r *GormFileRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&FileRecordModel{}).
		Where("id = ? AND status = ?", id, domain.FileStatusPending).
		Update("status", domain.FileStatusProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormFileRepo) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	var value datatypes.JSON
	if len(result) > 0 {
		value = datatypes.JSON(result)
	}
	return r.finish(ctx, id, map[string]any{
		"status":       domain.FileStatusCompleted,
		"result":       value,
		"error":        nil,
		"processed_at": r.now().UTC(),
	})
}

func (r *GormFileRepo) Fail(ctx context.Context, id string, reason string) (bool, error) {
	return r.finish(ctx, id, map[string]any{
		"status":       domain.FileStatusFailed,
		"error":        reason,
		"processed_at": r.now().UTC(),
	})
}

func (r *GormFileRepo) finish(ctx context.Context, id string, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&FileRecordModel{}).
		Where("id = ? AND status IN ?", id, []domain.FileStatus{domain.FileStatusPending, domain.FileStatusProcessing}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetStalePending returns PENDING files of open batches not touched since olderThan.
func (r *GormFileRepo) GetStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.FileRecord, error) {
	openBatches := r.db.Model(&BatchModel{}).
		Select("id").
		Where("status IN ?", domain.OpenBatchStatuses)

	var models []FileRecordModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ? AND batch_id IN (?)", domain.FileStatusPending, olderThan.UTC(), openBatches).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	files := make([]domain.FileRecord, 0, len(models))
	for i := range models {
		files = append(files, *fileModelToDomain(&models[i]))
	}
	return files, nil
}

func (r *GormFileRepo) Touch(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&FileRecordModel{}).
		Where("id = ?", id).
		Update("updated_at", r.now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
