package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/gorm"
)

// FileDoneResult describes the effect of folding one file into its batch counter.
type FileDoneResult struct {
	// Counted is false when the file had already been counted or is not done yet.
	Counted bool
	// Completed is true only for the single call that moved the batch to COMPLETED.
	Completed bool
	Batch     *domain.BatchProcess
}

type BatchRepository interface {
	CreateWithFiles(ctx context.Context, b *domain.BatchProcess, files []*domain.FileRecord) error
	GetByID(ctx context.Context, id string) (*domain.BatchProcess, error)
	AddFiles(ctx context.Context, batchID string, files []*domain.FileRecord) (*domain.BatchProcess, error)
	MarkProcessing(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) (*domain.BatchProcess, error)
	RecordFileDone(ctx context.Context, batchID string, fileID string) (*FileDoneResult, error)
}

type GormBatchRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db, now: time.Now}
}

func (r *GormBatchRepo) CreateWithFiles(ctx context.Context, b *domain.BatchProcess, files []*domain.FileRecord) error {
	model := batchModelFromDomain(b)
	if model == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	fileModels := make([]FileRecordModel, 0, len(files))
	for _, f := range files {
		if fm := fileModelFromDomain(f); fm != nil {
			fileModels = append(fileModels, *fm)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(fileModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&fileModels, 100).Error
	})
	if err != nil {
		return err
	}

	*b = *batchModelToDomain(model)
	copyFileModels(fileModels, files)
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchProcess, error) {
	return getBatch(r.db.WithContext(ctx), id)
}

func (r *GormBatchRepo) AddFiles(ctx context.Context, batchID string, files []*domain.FileRecord) (*domain.BatchProcess, error) {
	fileModels := make([]FileRecordModel, 0, len(files))
	for _, f := range files {
		if fm := fileModelFromDomain(f); fm != nil {
			fileModels = append(fileModels, *fm)
		}
	}
	if len(fileModels) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", domain.ErrValidation)
	}

	var batch *domain.BatchProcess
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&BatchModel{}).
			Where("id = ? AND status = ?", batchID, domain.BatchStatusCreated).
			Update("total_files", gorm.Expr("total_files + ?", len(fileModels)))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return missingOrInvalidState(tx, batchID, "files can only be added to a CREATED batch")
		}

		if err := tx.CreateInBatches(&fileModels, 100).Error; err != nil {
			return err
		}

		var err error
		batch, err = getBatch(tx, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}

	copyFileModels(fileModels, files)
	return batch, nil
}

func (r *GormBatchRepo) MarkProcessing(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusCreated).
		Update("status", domain.BatchStatusProcessing)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return missingOrInvalidState(r.db.WithContext(ctx), id, "only a CREATED batch can be started")
	}
	return nil
}

func (r *GormBatchRepo) Cancel(ctx context.Context, id string) (*domain.BatchProcess, error) {
	var batch *domain.BatchProcess
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&BatchModel{}).
			Where("id = ? AND status IN ?", id, domain.OpenBatchStatuses).
			Updates(map[string]any{
				"status":       domain.BatchStatusCancelled,
				"cancelled_at": r.now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return missingOrInvalidState(tx, id, "only a CREATED or PROCESSING batch can be cancelled")
		}

		var err error
		batch, err = getBatch(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// RecordFileDone marks the file as counted, increments processed_files and, when the
// increment reaches total_files on an open batch, moves the batch to COMPLETED. All
// three steps commit together, so concurrent callers never both observe completion.
func (r *GormBatchRepo) RecordFileDone(ctx context.Context, batchID string, fileID string) (*FileDoneResult, error) {
	out := &FileDoneResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked := tx.Model(&FileRecordModel{}).
			Where("id = ? AND batch_id = ? AND counted = ? AND status IN ?", fileID, batchID, false, domain.DoneFileStatuses).
			Update("counted", true)
		if marked.Error != nil {
			return marked.Error
		}
		if marked.RowsAffected == 0 {
			batch, err := getBatch(tx, batchID)
			if err != nil {
				return err
			}
			out.Batch = batch
			return nil
		}

		incremented := tx.Model(&BatchModel{}).
			Where("id = ? AND processed_files < total_files", batchID).
			Update("processed_files", gorm.Expr("processed_files + 1"))
		if incremented.Error != nil {
			return incremented.Error
		}
		if incremented.RowsAffected == 0 {
			return missingOrInvalidState(tx, batchID, "processed files already equals total files")
		}

		if err := tx.Model(&BatchModel{}).
			Where("id = ? AND status = ?", batchID, domain.BatchStatusCreated).
			Update("status", domain.BatchStatusProcessing).Error; err != nil {
			return err
		}

		completed := tx.Model(&BatchModel{}).
			Where("id = ? AND processed_files = total_files AND status IN ?", batchID, domain.OpenBatchStatuses).
			Updates(map[string]any{
				"status":       domain.BatchStatusCompleted,
				"completed_at": r.now().UTC(),
			})
		if completed.Error != nil {
			return completed.Error
		}

		batch, err := getBatch(tx, batchID)
		if err != nil {
			return err
		}

		out.Counted = true
		out.Completed = completed.RowsAffected == 1
		out.Batch = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getBatch(db *gorm.DB, id string) (*domain.BatchProcess, error) {
	var model BatchModel
	err := db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func missingOrInvalidState(db *gorm.DB, id string, reason string) error {
	batch, err := getBatch(db, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: batch %s is %s: %s", domain.ErrInvalidState, batch.ID, batch.Status, reason)
}

func copyFileModels(models []FileRecordModel, files []*domain.FileRecord) {
	i := 0
	for _, f := range files {
		if f == nil {
			continue
		}
		if i >= len(models) {
			return
		}
		*f = *fileModelToDomain(&models[i])
		i++
	}
}
