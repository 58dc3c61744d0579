package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

// createBonusTables creates run markers, the payout audit log and matching carries
func createBonusTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_bonus_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.BonusRun{}, &models.BonusPayout{}, &models.MatchingCarry{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.MatchingCarry{}, &models.BonusPayout{}, &models.BonusRun{})
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createBonusTables())
}
