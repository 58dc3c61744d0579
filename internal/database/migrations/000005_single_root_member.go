package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

// singleRootMember allows at most one member without a sponsor. The
// (sponsor_id, side) index skips NULL sponsors, so roots need their own.
func singleRootMember() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_single_root_member",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_members_single_root ON members ((sponsor_id IS NULL)) WHERE sponsor_id IS NULL").Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.Member{}, "idx_members_single_root")
		},
	}
}

func init() {
	migrationsList = append(migrationsList, singleRootMember())
}
