package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ProductAirtime = "airtime"
	ProductData    = "data"
	ProductCash    = "cash"

	RedemptionStatusPending   = "pending"
	RedemptionStatusCompleted = "completed"
	RedemptionStatusFailed    = "failed"
)

// Metadata keys on PointRedemption.Metadata.
const (
	MetaIdempotencyKey       = "idempotencyKey"
	MetaFlutterwaveSucceeded = "flutterwaveSucceeded"
	MetaPhase3Error          = "phase3Error"
	MetaNeedsReconciliation  = "needsReconciliation"
	MetaOutcomeUnknown       = "gatewayOutcomeUnknown"
	MetaFailedPhase          = "failedPhase"
	MetaFraudSeverity        = "fraudSeverity"
	MetaReconciledBy         = "reconciledBy"
	MetaReconciliationAction = "reconciliationAction"
	MetaTransferReversed     = "transferReversed"
	MetaTransferStatus       = "transferStatus"
)

type PointRedemption struct {
	ID                   uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference            string            `gorm:"column:reference;size:64;not null;uniqueIndex" json:"reference"`
	MemberID             uint              `gorm:"column:member_id;not null;index;uniqueIndex:idx_redemption_member_key,priority:1" json:"member_id"`
	IdempotencyKey       string            `gorm:"column:idempotency_key;size:128;not null;uniqueIndex:idx_redemption_member_key,priority:2" json:"idempotency_key"`
	ProductType          string            `gorm:"column:product_type;size:16;not null" json:"product_type"`
	PhoneNumber          string            `gorm:"column:phone_number;size:20" json:"phone_number,omitempty"`
	AccountNumber        string            `gorm:"column:account_number;size:20" json:"account_number,omitempty"`
	BankCode             string            `gorm:"column:bank_code;size:20" json:"bank_code,omitempty"`
	AccountName          string            `gorm:"column:account_name;size:255" json:"account_name,omitempty"`
	BillerCode           string            `gorm:"column:biller_code;size:64" json:"biller_code,omitempty"`
	ItemCode             string            `gorm:"column:item_code;size:64" json:"item_code,omitempty"`
	NairaValue           decimal.Decimal   `gorm:"column:naira_value;type:decimal(20,2);not null" json:"naira_value"`
	PointsDebited        int64             `gorm:"column:points_debited;not null" json:"points_debited"`
	Status               string            `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	FlutterwaveReference *string           `gorm:"column:flutterwave_reference;size:128" json:"flutterwave_reference"`
	ErrorMessage         string            `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Metadata             datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CompletedAt          *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PointRedemption) TableName() string {
	return "point_redemptions"
}

// Flag reads a boolean metadata flag.
func (r PointRedemption) Flag(key string) bool {
	if r.Metadata == nil {
		return false
	}
	v, _ := r.Metadata[key].(bool)
	return v
}

func (r PointRedemption) NeedsReconciliation() bool {
	return r.Status == RedemptionStatusFailed && r.Flag(MetaNeedsReconciliation)
}
