package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"points-service/internal/metrics"
	"points-service/internal/models"
	"points-service/pkg/common"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService is the only writer of ledger_entries. Every balance-affecting
// operation elsewhere goes through AddPoints / DeductPoints inside the caller's transaction.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

type PointMovementDTO struct {
	MemberID        uint
	Amount          int64
	TransactionType string
	Source          string
	ReferenceType   string
	ReferenceID     string
	Description     string
	Metadata        map[string]interface{}
}

type TransferPointsDTO struct {
	FromMemberID uint   `json:"-"`
	ToMemberID   uint   `json:"to_member_id" binding:"required"`
	Amount       int64  `json:"amount" binding:"required"`
	Reason       string `json:"reason"`
}

type TransferResult struct {
	Reference string              `json:"reference"`
	Debit     *models.LedgerEntry `json:"debit"`
	Credit    *models.LedgerEntry `json:"credit"`
}

type HistoryFilterDTO struct {
	MemberID        uint
	TransactionType string
	Source          string
	ReferenceType   string
	Direction       string // credit | debit
	From            *time.Time
	To              *time.Time
	Page            int
	Limit           int
}

type BalanceSummary struct {
	MemberID          uint  `json:"member_id"`
	Balance           int64 `json:"balance"`
	Available         int64 `json:"available"`
	PendingHold       int64 `json:"pending_hold"`
	TotalPointsEarned int64 `json:"total_points_earned"`
}

var earningTypes = map[string]bool{
	models.TxTypeEarn:       true,
	models.TxTypeReferral:   true,
	models.TxTypeTaskPayout: true,
}

// LockMember loads the member row with an exclusive lock for the rest of tx.
func (s *LedgerService) LockMember(tx *gorm.DB, memberID uint) (*models.Member, error) {
	var member models.Member
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&member, memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// BalanceTx derives the balance from the newest ledger row, reading through tx.
func (s *LedgerService) BalanceTx(tx *gorm.DB, memberID uint) (int64, error) {
	var entry models.LedgerEntry
	err := tx.Where("member_id = ?", memberID).Order("id DESC").Limit(1).Find(&entry).Error
	if err != nil {
		return 0, err
	}
	return entry.BalanceAfter, nil
}

// PendingHold is the sum of points reserved by the member's in-flight redemptions.
func (s *LedgerService) PendingHold(tx *gorm.DB, memberID uint) (int64, error) {
	var held int64
	err := tx.Model(&models.PointRedemption{}).
		Where("member_id = ? AND status = ?", memberID, models.RedemptionStatusPending).
		Select("COALESCE(SUM(points_debited), 0)").
		Scan(&held).Error
	return held, err
}

// AvailableBalance is the ledger balance minus pending redemption holds.
func (s *LedgerService) AvailableBalance(tx *gorm.DB, memberID uint) (int64, error) {
	balance, err := s.BalanceTx(tx, memberID)
	if err != nil {
		return 0, err
	}
	held, err := s.PendingHold(tx, memberID)
	if err != nil {
		return 0, err
	}
	if available := balance - held; available > 0 {
		return available, nil
	}
	return 0, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, memberID uint) (int64, error) {
	return s.BalanceTx(s.DB.WithContext(ctx), memberID)
}

func (s *LedgerService) GetBalanceSummary(ctx context.Context, memberID uint) (*BalanceSummary, error) {
	db := s.DB.WithContext(ctx)

	var member models.Member
	if err := db.First(&member, memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}

	balance, err := s.BalanceTx(db, memberID)
	if err != nil {
		return nil, err
	}
	held, err := s.PendingHold(db, memberID)
	if err != nil {
		return nil, err
	}
	available := balance - held
	if available < 0 {
		available = 0
	}

	return &BalanceSummary{
		MemberID:          memberID,
		Balance:           balance,
		Available:         available,
		PendingHold:       held,
		TotalPointsEarned: member.TotalPointsEarned,
	}, nil
}

// AddPoints appends a credit inside tx.
func (s *LedgerService) AddPoints(tx *gorm.DB, data PointMovementDTO) (*models.LedgerEntry, error) {
	if data.Amount <= 0 {
		return nil, newValidationError("amount", "credit amount must be positive")
	}
	if _, err := s.LockMember(tx, data.MemberID); err != nil {
		return nil, err
	}

	balance, err := s.BalanceTx(tx, data.MemberID)
	if err != nil {
		return nil, err
	}
	return s.append(tx, data, data.Amount, balance+data.Amount)
}

// DeductPoints appends a debit inside tx, failing with ErrInsufficientBalance when the
// ledger balance re-read under lock does not cover the amount.
func (s *LedgerService) DeductPoints(tx *gorm.DB, data PointMovementDTO) (*models.LedgerEntry, error) {
	if data.Amount <= 0 {
		return nil, newValidationError("amount", "debit amount must be positive")
	}
	if _, err := s.LockMember(tx, data.MemberID); err != nil {
		return nil, err
	}

	balance, err := s.BalanceTx(tx, data.MemberID)
	if err != nil {
		return nil, err
	}
	if data.Amount > balance {
		return nil, ErrInsufficientBalance
	}
	return s.append(tx, data, -data.Amount, balance-data.Amount)
}

func (s *LedgerService) append(tx *gorm.DB, data PointMovementDTO, signed, balanceAfter int64) (*models.LedgerEntry, error) {
	entry := models.LedgerEntry{
		MemberID:        data.MemberID,
		TransactionType: data.TransactionType,
		Source:          data.Source,
		Amount:          signed,
		BalanceAfter:    balanceAfter,
		ReferenceType:   data.ReferenceType,
		ReferenceID:     data.ReferenceID,
		Description:     data.Description,
		Metadata:        data.Metadata,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	updates := map[string]interface{}{"point_balance": balanceAfter}
	if signed > 0 && earningTypes[data.TransactionType] {
		updates["total_points_earned"] = gorm.Expr("total_points_earned + ?", signed)
	}
	if err := tx.Model(&models.Member{}).Where("id = ?", data.MemberID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("refresh cached balance: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(data.TransactionType).Inc()
	return &entry, nil
}

// Award credits points in its own transaction. Only active members may earn.
func (s *LedgerService) Award(ctx context.Context, data PointMovementDTO) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.LockMember(tx, data.MemberID)
		if err != nil {
			return err
		}
		if !member.IsActive() {
			return ErrMemberInactive
		}
		entry, err = s.AddPoints(tx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// TransferPoints moves points between two active members. Either both legs commit or neither does.
func (s *LedgerService) TransferPoints(ctx context.Context, data TransferPointsDTO) (*TransferResult, error) {
	if data.Amount <= 0 {
		return nil, newValidationError("amount", "transfer amount must be positive")
	}
	if data.FromMemberID == data.ToMemberID {
		return nil, newValidationError("to_member_id", "cannot transfer points to yourself")
	}

	result := &TransferResult{Reference: common.GenerateReference("TRF")}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// lock in id order so two opposite transfers cannot deadlock
		first, second := data.FromMemberID, data.ToMemberID
		if second < first {
			first, second = second, first
		}
		members := make(map[uint]*models.Member, 2)
		for _, id := range []uint{first, second} {
			m, err := s.LockMember(tx, id)
			if err != nil {
				return err
			}
			members[id] = m
		}
		if !members[data.FromMemberID].IsActive() || !members[data.ToMemberID].IsActive() {
			return ErrMemberInactive
		}

		available, err := s.AvailableBalance(tx, data.FromMemberID)
		if err != nil {
			return err
		}
		if available < data.Amount {
			return ErrInsufficientBalance
		}

		meta := map[string]interface{}{"reason": data.Reason}
		result.Debit, err = s.DeductPoints(tx, PointMovementDTO{
			MemberID:        data.FromMemberID,
			Amount:          data.Amount,
			TransactionType: models.TxTypeTransferOut,
			Source:          models.SourceMemberTransfer,
			ReferenceType:   models.RefTypeTransfer,
			ReferenceID:     result.Reference,
			Description:     fmt.Sprintf("Transfer to member %d", data.ToMemberID),
			Metadata:        meta,
		})
		if err != nil {
			return err
		}

		result.Credit, err = s.AddPoints(tx, PointMovementDTO{
			MemberID:        data.ToMemberID,
			Amount:          data.Amount,
			TransactionType: models.TxTypeTransferIn,
			Source:          models.SourceMemberTransfer,
			ReferenceType:   models.RefTypeTransfer,
			ReferenceID:     result.Reference,
			Description:     fmt.Sprintf("Transfer from member %d", data.FromMemberID),
			Metadata:        meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"reference": result.Reference,
		"from":      data.FromMemberID,
		"to":        data.ToMemberID,
		"amount":    data.Amount,
	}).Info("points transferred")
	return result, nil
}

// GetTransactionHistory lists a member's ledger entries, newest first.
func (s *LedgerService) GetTransactionHistory(ctx context.Context, filter HistoryFilterDTO) (common.PaginationResult, error) {
	page, limit, offset := common.NormalizePage(filter.Page, filter.Limit)

	query := s.DB.WithContext(ctx).Model(&models.LedgerEntry{}).Where("member_id = ?", filter.MemberID)
	if filter.TransactionType != "" {
		query = query.Where("transaction_type = ?", filter.TransactionType)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.ReferenceType != "" {
		query = query.Where("reference_type = ?", filter.ReferenceType)
	}
	switch filter.Direction {
	case "credit":
		query = query.Where("amount > 0")
	case "debit":
		query = query.Where("amount < 0")
	case "":
	default:
		return common.PaginationResult{}, newValidationError("direction", "must be credit or debit")
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var entries []models.LedgerEntry
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return common.PaginationResult{}, err
	}

	return common.PaginateResponse(entries, total, page, limit, "Transactions fetched"), nil
}
