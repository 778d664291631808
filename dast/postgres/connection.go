// Package postgres owns the gorm connection and the repository for all
// persisted DAST records. Exactly one backing store is selected at
// startup: postgres in production, sqlite for development and tests.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mqxerror/qa-guardian/dast/model"
)

// Connect opens the database selected by driver ("postgres" or "sqlite")
// and migrates the schema. The DSN is passed through to the driver
// unchanged.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch driver {
	case "postgres", "":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", driver, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the schema for every persisted type.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.ScanConfig{},
		&model.Scan{},
		&model.Finding{},
		&model.FalsePositive{},
		&model.Schedule{},
		&model.GraphQLScan{},
		&model.GraphQLFinding{},
		&model.ScanEvent{},
	)
	if err != nil {
		return fmt.Errorf("migrate database schema: %w", err)
	}
	return nil
}
