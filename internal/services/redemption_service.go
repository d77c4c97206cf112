package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"points-service/internal/config"
	"points-service/internal/models"
	"points-service/internal/tasks"
	"points-service/pkg/common"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RedemptionService converts points into airtime, data or a bank payout through the value gateway.
type RedemptionService struct {
	DB             *gorm.DB
	Ledger         *LedgerService
	Audit          *AuditService
	Gateway        ValueGateway
	Fraud          FraudChecker
	Queue          TaskEnqueuer
	Points         config.PointsConfig
	GatewayTimeout time.Duration
}

func NewRedemptionService(
	db *gorm.DB,
	ledger *LedgerService,
	audit *AuditService,
	gateway ValueGateway,
	fraud FraudChecker,
	queue TaskEnqueuer,
	points config.PointsConfig,
	gatewayTimeout time.Duration,
) *RedemptionService {
	if fraud == nil {
		fraud = AllowAllFraudChecker{}
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 30 * time.Second
	}
	return &RedemptionService{
		DB:             db,
		Ledger:         ledger,
		Audit:          audit,
		Gateway:        gateway,
		Fraud:          fraud,
		Queue:          queue,
		Points:         points,
		GatewayTimeout: gatewayTimeout,
	}
}

type RedeemDTO struct {
	MemberID       uint   `json:"-"`
	ProductType    string `json:"product_type" binding:"required"`
	Points         int64  `json:"points" binding:"required"`
	PhoneNumber    string `json:"phone_number"`
	BillerCode     string `json:"biller_code"`
	ItemCode       string `json:"item_code"`
	AccountNumber  string `json:"account_number"`
	BankCode       string `json:"bank_code"`
	IdempotencyKey string `json:"idempotency_key"`
}

const (
	ReconcileActionDeduct   = "deduct"
	ReconcileActionWriteOff = "write_off"
)

type ReconcileDTO struct {
	RedemptionID uint   `json:"-"`
	OperatorID   uint   `json:"-"`
	Action       string `json:"action" binding:"required"`
	Note         string `json:"note"`
}

// Redeem runs the redemption saga. On failure the returned record, when non-nil, is the
// persisted failed redemption.
func (s *RedemptionService) Redeem(ctx context.Context, req RedeemDTO) (*models.PointRedemption, error) {
	return newRedemptionSaga(s, req).run(ctx)
}

func mergeMetadata(current datatypes.JSONMap, flags map[string]interface{}) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range flags {
		merged[k] = v
	}
	return merged
}

// markFailed moves a pending redemption to failed with the given flags, audited in the same transaction.
func (s *RedemptionService) markFailed(ctx context.Context, rec *models.PointRedemption, message string, flags map[string]interface{}, externalRef *string, actorType string, actorID uint) error {
	metadata := mergeMetadata(rec.Metadata, flags)
	updates := map[string]interface{}{
		"status":        models.RedemptionStatusFailed,
		"error_message": message,
		"metadata":      metadata,
	}
	if externalRef != nil && *externalRef != "" {
		updates["flutterwave_reference"] = *externalRef
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PointRedemption{}).
			Where("id = ? AND status = ?", rec.ID, models.RedemptionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrInvalidState
		}
		return s.Audit.Record(tx, AuditEntry{
			ActorID:    actorID,
			ActorType:  actorType,
			EntityType: EntityRedemption,
			EntityID:   rec.ID,
			Action:     "failed",
			FromStatus: models.RedemptionStatusPending,
			ToStatus:   models.RedemptionStatusFailed,
			Metadata:   flags,
		})
	})
	if err != nil {
		return err
	}

	rec.Status = models.RedemptionStatusFailed
	rec.ErrorMessage = message
	rec.Metadata = metadata
	if externalRef != nil && *externalRef != "" {
		ref := *externalRef
		rec.FlutterwaveReference = &ref
	}
	return nil
}

// alert queues an operator notification. Failing to enqueue is logged; the flagged record remains the source of truth.
func (s *RedemptionService) alert(ctx context.Context, rec *models.PointRedemption, reason string) {
	if s.Queue == nil {
		log.WithFields(log.Fields{"reference": rec.Reference, "reason": reason}).Error("redemption requires manual reconciliation")
		return
	}
	payload := tasks.ReconciliationAlertPayload{
		RedemptionID: rec.ID,
		Reference:    rec.Reference,
		MemberID:     rec.MemberID,
		Points:       rec.PointsDebited,
		Reason:       reason,
	}
	if rec.FlutterwaveReference != nil {
		payload.ExternalReference = *rec.FlutterwaveReference
	}
	task, err := tasks.NewReconciliationAlertTask(payload)
	if err == nil {
		_, err = s.Queue.EnqueueContext(ctx, task)
	}
	if err != nil {
		log.WithError(err).WithField("reference", rec.Reference).Error("failed to enqueue reconciliation alert")
	}
}

func (s *RedemptionService) ListRedemptions(ctx context.Context, memberID uint, status string, page, limit int) (common.PaginationResult, error) {
	page, limit, offset := common.NormalizePage(page, limit)

	query := s.DB.WithContext(ctx).Model(&models.PointRedemption{}).Where("member_id = ?", memberID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var items []models.PointRedemption
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return common.PaginationResult{}, err
	}
	return common.PaginateResponse(items, total, page, limit, "Redemptions fetched"), nil
}

// GetRedemption returns a redemption owned by memberID. A memberID of 0 skips the ownership check.
func (s *RedemptionService) GetRedemption(ctx context.Context, memberID, id uint) (*models.PointRedemption, error) {
	query := s.DB.WithContext(ctx).Where("id = ?", id)
	if memberID != 0 {
		query = query.Where("member_id = ?", memberID)
	}
	var rec models.PointRedemption
	if err := query.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedemptionNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *RedemptionService) lockRedemption(tx *gorm.DB, where string, args ...interface{}) (*models.PointRedemption, error) {
	var rec models.PointRedemption
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(where, args...).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Reconcile lets an operator close a redemption flagged for reconciliation, either by taking
// the points now or by writing the difference off.
func (s *RedemptionService) Reconcile(ctx context.Context, data ReconcileDTO) (*models.PointRedemption, error) {
	if data.Action != ReconcileActionDeduct && data.Action != ReconcileActionWriteOff {
		return nil, newValidationError("action", "must be deduct or write_off")
	}

	var rec *models.PointRedemption
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.lockRedemption(tx, "id = ?", data.RedemptionID)
		if err != nil {
			return err
		}
		if !rec.NeedsReconciliation() {
			return ErrInvalidState
		}

		flags := map[string]interface{}{
			models.MetaNeedsReconciliation:  false,
			models.MetaReconciledBy:         data.OperatorID,
			models.MetaReconciliationAction: data.Action,
			"reconciliationNote":            data.Note,
			"reconciledAt":                  time.Now().UTC().Format(time.RFC3339),
		}
		updates := map[string]interface{}{}
		toStatus := models.RedemptionStatusFailed

		if data.Action == ReconcileActionDeduct {
			if _, err := s.Ledger.LockMember(tx, rec.MemberID); err != nil {
				return err
			}
			// points already held by in-flight redemptions are not ours to take
			available, err := s.Ledger.AvailableBalance(tx, rec.MemberID)
			if err != nil {
				return err
			}
			if available < rec.PointsDebited {
				return ErrInsufficientBalance
			}
			if _, err := s.Ledger.DeductPoints(tx, PointMovementDTO{
				MemberID:        rec.MemberID,
				Amount:          rec.PointsDebited,
				TransactionType: models.TxTypeRedemption,
				Source:          models.SourceOperator,
				ReferenceType:   models.RefTypeRedemption,
				ReferenceID:     rec.Reference,
				Description:     "Reconciled " + rec.ProductType + " redemption",
				Metadata:        map[string]interface{}{"operator_id": data.OperatorID},
			}); err != nil {
				return err
			}
			toStatus = models.RedemptionStatusCompleted
			updates["status"] = toStatus
			updates["completed_at"] = time.Now()
		}

		rec.Metadata = mergeMetadata(rec.Metadata, flags)
		updates["metadata"] = rec.Metadata
		if err := tx.Model(&models.PointRedemption{}).Where("id = ?", rec.ID).Updates(updates).Error; err != nil {
			return err
		}
		rec.Status = toStatus

		return s.Audit.Record(tx, AuditEntry{
			ActorID:    data.OperatorID,
			ActorType:  models.ActorOperator,
			EntityType: EntityRedemption,
			EntityID:   rec.ID,
			Action:     "reconciled_" + data.Action,
			FromStatus: models.RedemptionStatusFailed,
			ToStatus:   toStatus,
			Metadata:   map[string]interface{}{"note": data.Note},
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"reference": rec.Reference, "action": data.Action, "operator": data.OperatorID}).Info("redemption reconciled")
	return rec, nil
}

// HandleTransferEvent applies a provider transfer status callback to a cash redemption.
// A failed or reversed payout on a completed redemption gives the points back.
func (s *RedemptionService) HandleTransferEvent(ctx context.Context, reference, status string) (*models.PointRedemption, error) {
	status = strings.ToUpper(strings.TrimSpace(status))

	var rec *models.PointRedemption
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.lockRedemption(tx, "reference = ?", reference)
		if err != nil {
			return err
		}
		if rec.ProductType != models.ProductCash {
			return newValidationError("reference", "not a bank transfer redemption")
		}

		if status != "FAILED" && status != "REVERSED" {
			flags := map[string]interface{}{models.MetaTransferStatus: status}
			if status == "SUCCESSFUL" && rec.NeedsReconciliation() {
				flags[models.MetaFlutterwaveSucceeded] = true
			}
			rec.Metadata = mergeMetadata(rec.Metadata, flags)
			return tx.Model(&models.PointRedemption{}).Where("id = ?", rec.ID).Update("metadata", rec.Metadata).Error
		}

		if rec.Flag(models.MetaTransferReversed) {
			return nil
		}

		flags := map[string]interface{}{
			models.MetaTransferStatus:   status,
			models.MetaTransferReversed: true,
		}
		from := rec.Status
		switch {
		case rec.Status == models.RedemptionStatusPending:
			// the saga has not settled yet; let the provider retry the callback
			return ErrInvalidState
		case rec.Status == models.RedemptionStatusCompleted:
			if _, err := s.Ledger.AddPoints(tx, PointMovementDTO{
				MemberID:        rec.MemberID,
				Amount:          rec.PointsDebited,
				TransactionType: models.TxTypeRefund,
				Source:          models.SourceFlutterwave,
				ReferenceType:   models.RefTypeRedemption,
				ReferenceID:     rec.Reference,
				Description:     "Bank transfer " + strings.ToLower(status) + ", points returned",
			}); err != nil {
				return err
			}
		case rec.NeedsReconciliation():
			// value never actually arrived, so there is nothing left to reconcile
			flags[models.MetaNeedsReconciliation] = false
		}

		rec.Metadata = mergeMetadata(rec.Metadata, flags)
		rec.Status = models.RedemptionStatusFailed
		rec.ErrorMessage = "bank transfer " + strings.ToLower(status) + " by provider"
		if err := tx.Model(&models.PointRedemption{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
			"status":        rec.Status,
			"error_message": rec.ErrorMessage,
			"metadata":      rec.Metadata,
		}).Error; err != nil {
			return err
		}

		return s.Audit.Record(tx, AuditEntry{
			ActorType:  models.ActorSystem,
			EntityType: EntityRedemption,
			EntityID:   rec.ID,
			Action:     "transfer_" + strings.ToLower(status),
			FromStatus: from,
			ToStatus:   models.RedemptionStatusFailed,
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FlagStaleRedemptions fails redemptions left pending longer than the configured window,
// typically after a crash between saga phases. Points are never moved here.
func (s *RedemptionService) FlagStaleRedemptions(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.Points.StaleRedemptionAfter)

	var stale []models.PointRedemption
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.RedemptionStatusPending, cutoff).
		Limit(200).Find(&stale).Error; err != nil {
		return 0, err
	}

	flagged := 0
	for i := range stale {
		rec := &stale[i]
		flags := map[string]interface{}{
			models.MetaNeedsReconciliation: true,
			models.MetaFailedPhase:         "stale",
		}
		message := "redemption abandoned before the provider confirmed; outcome unknown"
		if rec.FlutterwaveReference != nil && *rec.FlutterwaveReference != "" {
			flags[models.MetaFlutterwaveSucceeded] = true
			message = "redemption abandoned after the provider confirmed; points not debited"
		} else {
			flags[models.MetaOutcomeUnknown] = true
		}

		if err := s.markFailed(ctx, rec, message, flags, nil, models.ActorSystem, 0); err != nil {
			if !errors.Is(err, ErrInvalidState) {
				log.WithError(err).WithField("reference", rec.Reference).Error("failed to flag stale redemption")
			}
			continue
		}
		s.alert(ctx, rec, message)
		flagged++
	}
	return flagged, nil
}
