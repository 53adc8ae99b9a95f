package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addDeliveryIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_delivery_indexes",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries (next_attempt) WHERE status IN ('PENDING', 'RETRY_PENDING')`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook_created ON webhook_deliveries (webhook_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_delivery_attempts_delivery ON webhook_delivery_attempts (delivery_id, attempt_number)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_webhook_delivery_attempts_delivery`,
				`DROP INDEX IF EXISTS idx_webhook_deliveries_webhook_created`,
				`DROP INDEX IF EXISTS idx_webhook_deliveries_due`,
			})
		},
	}
}
