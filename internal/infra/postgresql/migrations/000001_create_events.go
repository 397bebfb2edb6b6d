package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ledgerline/dispatch/internal/repository"
	"gorm.io/gorm"
)

func createEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_events_org_created ON events (organization_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EventModel{})
		},
	}
}
