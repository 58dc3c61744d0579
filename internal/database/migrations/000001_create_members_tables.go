package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

// createMembersTables creates the placement tree and rank history
func createMembersTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_members_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Member{}, &models.RankChange{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.RankChange{}, &models.Member{})
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createMembersTables())
}
