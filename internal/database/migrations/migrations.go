package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func list() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createLedgerTables(),
		createTaskTables(),
		createRedemptionTables(),
		createPurchaseTables(),
	}
}

// Run applies all migrations in order. Already applied IDs are skipped.
func Run(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, list()).Migrate()
}
