package migrations

import (
	"points-service/internal/models"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createTaskTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_task_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.UserTask{}, &models.TaskFunding{}, &models.TaskCompletion{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.TaskCompletion{}, &models.TaskFunding{}, &models.UserTask{})
		},
	}
}
