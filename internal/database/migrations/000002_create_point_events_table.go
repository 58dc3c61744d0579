package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

// createPointEventsTable creates the append-only point ledger
func createPointEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_point_events_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.PointEvent{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.PointEvent{})
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createPointEventsTable())
}
