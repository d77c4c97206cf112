package migrations

import (
	"points-service/internal/models"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createRedemptionTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_redemption_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.PointRedemption{}, &models.GatewayLog{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.GatewayLog{}, &models.PointRedemption{})
		},
	}
}
