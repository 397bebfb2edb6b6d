package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ledgerline/dispatch/internal/repository"
	"gorm.io/gorm"
)

func createWebhookEndpointsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webhook_endpoints",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EndpointModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_endpoints_org_active ON webhook_endpoints (organization_id) WHERE active`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EndpointModel{})
		},
	}
}
