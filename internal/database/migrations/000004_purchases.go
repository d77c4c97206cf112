package migrations

import (
	"points-service/internal/models"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createPurchaseTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_purchase_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.PointPurchase{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.PointPurchase{})
		},
	}
}
