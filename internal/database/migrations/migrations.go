package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// migrationsList holds all migrations in the order they are applied
var migrationsList []*gormigrate.Migration

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)

	if err := m.Migrate(); err != nil {
		log.WithError(err).Error("could not migrate")
		return err
	}
	log.WithField("count", len(migrationsList)).Debug("migrations ran successfully")
	return nil
}

// Rollback reverts the most recent migration
func Rollback(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrationsList).RollbackLast()
}

// IDs lists the migration ids known to this binary
func IDs() []string {
	ids := make([]string, 0, len(migrationsList))
	for _, m := range migrationsList {
		ids = append(ids, m.ID)
	}
	return ids
}
