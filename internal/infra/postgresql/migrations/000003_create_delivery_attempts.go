package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ledgerline/dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Concurrent workers racing on the same chain serialize here:
				// the second insert of the same attempt number loses.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_pair_number ON delivery_attempts (event_id, endpoint_id, attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_endpoint_created ON delivery_attempts (endpoint_id, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
		},
	}
}
