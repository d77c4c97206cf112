package models

import (
	"time"
)

const (
	MemberStatusPending   = "pending"
	MemberStatusActive    = "active"
	MemberStatusSuspended = "suspended"
	MemberStatusInactive  = "inactive"
	MemberStatusDeleted   = "deleted"
)

// Member is the points holder. PointBalance and TotalPointsEarned are caches of the ledger;
// the ledger itself is authoritative.
type Member struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username          string    `gorm:"column:username;size:255;not null" json:"username"`
	Email             string    `gorm:"column:email;size:255" json:"email"`
	Phone             string    `gorm:"column:phone;size:20" json:"phone"`
	Status            string    `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	PointBalance      int64     `gorm:"column:point_balance;not null;default:0" json:"point_balance"`
	TotalPointsEarned int64     `gorm:"column:total_points_earned;not null;default:0" json:"total_points_earned"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Member) TableName() string {
	return "members"
}

func (m Member) IsActive() bool {
	return m.Status == MemberStatusActive
}
