package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(
		&TemplateModel{},
		&BatchModel{},
		&FileRecordModel{},
		&WebhookModel{},
		&WebhookDeliveryModel{},
		&DeliveryAttemptModel{},
	); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}

	return db
}

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestBatch(total int) (*domain.BatchProcess, []*domain.FileRecord) {
	batch := &domain.BatchProcess{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		TemplateID: "tpl-1",
		TotalFiles: total,
		Status:     domain.BatchStatusCreated,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}

	files := make([]*domain.FileRecord, 0, total)
	for i := 0; i < total; i++ {
		files = append(files, newTestFile(batch))
	}
	return batch, files
}

func newTestFile(batch *domain.BatchProcess) *domain.FileRecord {
	return &domain.FileRecord{
		ID:         uuid.NewString(),
		BatchID:    batch.ID,
		TemplateID: batch.TemplateID,
		UserID:     batch.UserID,
		FileName:   "invoice.pdf",
		StorageKey: "uploads/" + batch.ID + "/invoice.pdf",
		Status:     domain.FileStatusPending,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
}
