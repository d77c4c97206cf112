package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TxTypeEarn           = "earn"
	TxTypeSpend          = "spend"
	TxTypePurchase       = "purchase"
	TxTypeReferral       = "referral"
	TxTypeRefund         = "refund"
	TxTypeTaskFund       = "user_task_fund"
	TxTypeTaskPayout     = "user_task_payout"
	TxTypeTaskRefund     = "user_task_refund"
	TxTypeRedemption     = "redemption"
	TxTypeTransferIn     = "transfer_in"
	TxTypeTransferOut    = "transfer_out"
	TxTypeAdjustment     = "adjustment"
	RefTypeUserTask      = "user_task"
	RefTypeRedemption    = "point_redemption"
	RefTypePurchase      = "point_purchase"
	RefTypeTransfer      = "transfer"
	RefTypeManual        = "manual"
	SourceSystem         = "system"
	SourceTask           = "task"
	SourceRedemption     = "redemption"
	SourceFlutterwave    = "flutterwave"
	SourceMemberTransfer = "member_transfer"
	SourceOperator       = "operator"
)

var ErrLedgerImmutable = errors.New("ledger entries are append-only")

// LedgerEntry is one append-only balance movement. Amount is signed; BalanceAfter is the
// running balance of the member once this entry is applied.
type LedgerEntry struct {
	ID              uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID        uint              `gorm:"column:member_id;not null;index:idx_ledger_member_id,priority:1" json:"member_id"`
	TransactionType string            `gorm:"column:transaction_type;size:32;not null;index" json:"transaction_type"`
	Source          string            `gorm:"column:source;size:64" json:"source"`
	Amount          int64             `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter    int64             `gorm:"column:balance_after;not null" json:"balance_after"`
	ReferenceType   string            `gorm:"column:reference_type;size:64;index:idx_ledger_reference,priority:1" json:"reference_type"`
	ReferenceID     string            `gorm:"column:reference_id;size:64;index:idx_ledger_reference,priority:2" json:"reference_id"`
	Description     string            `gorm:"column:description;size:255" json:"description"`
	Metadata        datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func (LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrLedgerImmutable
}

func (LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrLedgerImmutable
}

func (e LedgerEntry) IsCredit() bool {
	return e.Amount > 0
}
