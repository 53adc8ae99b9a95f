package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batch_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.TemplateModel{},
				&repository.BatchModel{},
				&repository.FileRecordModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_processes_status ON batch_processes (status)`,
				`CREATE INDEX IF NOT EXISTS idx_file_records_pending ON file_records (updated_at) WHERE status = 'PENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.FileRecordModel{},
				&repository.BatchModel{},
				&repository.TemplateModel{},
			)
		},
	}
}
