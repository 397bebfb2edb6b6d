package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ledgerline/dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationPreferencesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_notification_preferences",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PreferenceModel{}); err != nil {
				return err
			}
			// One preference row per scope and type. NULLS NOT DISTINCT keeps
			// the user-scoped and org-scoped rows unique despite the NULL half
			// of the pair (requires PostgreSQL 15+).
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_preferences_scope_type ON notification_preferences (user_id, organization_id, notification_type) NULLS NOT DISTINCT`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PreferenceModel{})
		},
	}
}
