package services

import (
	"fmt"

	"points-service/internal/models"

	"gorm.io/gorm"
)

const (
	EntityTaskFunding = "task_funding"
	EntityRedemption  = "point_redemption"
	EntityPurchase    = "point_purchase"
)

type AuditEntry struct {
	ActorID    uint
	ActorType  string
	EntityType string
	EntityID   uint
	Action     string
	FromStatus string
	ToStatus   string
	Metadata   map[string]interface{}
}

type AuditService struct {
	DB *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

// Record writes an audit row through tx so it commits or rolls back with the transition it describes.
func (s *AuditService) Record(tx *gorm.DB, entry AuditEntry) error {
	row := models.AuditLog{
		ActorID:    entry.ActorID,
		ActorType:  entry.ActorType,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		Metadata:   entry.Metadata,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Trail returns the audit history of one entity, oldest first.
func (s *AuditService) Trail(entityType string, entityID uint) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.DB.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Order("id ASC").Find(&logs).Error
	return logs, err
}
