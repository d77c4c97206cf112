package migrations

import (
	"points-service/internal/models"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createLedgerTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_ledger_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Member{}, &models.LedgerEntry{}, &models.AuditLog{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.AuditLog{}, &models.LedgerEntry{}, &models.Member{})
		},
	}
}
