package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ActorMember   = "member"
	ActorSystem   = "system"
	ActorOperator = "operator"
)

// AuditLog records every state transition of funding, redemption and purchase records.
type AuditLog struct {
	ID         uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID    uint              `gorm:"column:actor_id" json:"actor_id"`
	ActorType  string            `gorm:"column:actor_type;size:20;not null" json:"actor_type"`
	EntityType string            `gorm:"column:entity_type;size:64;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   uint              `gorm:"column:entity_id;not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Action     string            `gorm:"column:action;size:64;not null" json:"action"`
	FromStatus string            `gorm:"column:from_status;size:20" json:"from_status"`
	ToStatus   string            `gorm:"column:to_status;size:20" json:"to_status"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
