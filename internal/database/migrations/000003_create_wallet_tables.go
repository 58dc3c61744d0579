package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

// createWalletTables creates wallet accounts and the transaction log
func createWalletTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_wallet_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.WalletAccount{}, &models.WalletTransaction{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.WalletTransaction{}, &models.WalletAccount{})
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createWalletTables())
}
