package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"gorm.io/gorm"
)

func createWebhookTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webhook_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&repository.WebhookModel{},
				&repository.WebhookDeliveryModel{},
				&repository.DeliveryAttemptModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.DeliveryAttemptModel{},
				&repository.WebhookDeliveryModel{},
				&repository.WebhookModel{},
			)
		},
	}
}
