package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PurchaseModePackage = "package"
	PurchaseModeCustom  = "custom"

	PurchaseStatusPending = "pending"
	PurchaseStatusSuccess = "success"
	PurchaseStatusFailed  = "failed"
)

// PointPurchase records a money-to-points checkout. Reference is the tx_ref sent to the provider.
type PointPurchase struct {
	ID                uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference         string            `gorm:"column:reference;size:64;not null;uniqueIndex" json:"reference"`
	MemberID          uint              `gorm:"column:member_id;not null;index" json:"member_id"`
	Mode              string            `gorm:"column:mode;size:16;not null" json:"mode"`
	PackageID         string            `gorm:"column:package_id;size:64" json:"package_id,omitempty"`
	PointsAmount      int64             `gorm:"column:points_amount;not null" json:"points_amount"`
	NairaAmount       decimal.Decimal   `gorm:"column:naira_amount;type:decimal(20,2);not null" json:"naira_amount"`
	ExchangeRate      decimal.Decimal   `gorm:"column:exchange_rate;type:decimal(20,6);not null" json:"exchange_rate"`
	CheckoutLink      string            `gorm:"column:checkout_link;size:512" json:"checkout_link,omitempty"`
	ExternalReference string            `gorm:"column:external_reference;size:128" json:"external_reference,omitempty"`
	Status            string            `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	ErrorMessage      string            `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	VerifiedAt        *time.Time        `gorm:"column:verified_at" json:"verified_at,omitempty"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PointPurchase) TableName() string {
	return "point_purchases"
}
