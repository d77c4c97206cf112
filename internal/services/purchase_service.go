package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"points-service/internal/config"
	"points-service/internal/metrics"
	"points-service/internal/models"
	"points-service/pkg/common"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errAlreadyProcessed = errors.New("purchase already processed")

const purchaseExpiredReason = "checkout expired"

// PurchaseService sells points for money through a provider checkout.
type PurchaseService struct {
	DB             *gorm.DB
	Ledger         *LedgerService
	Audit          *AuditService
	Gateway        ValueGateway
	Points         config.PointsConfig
	Currency       string
	GatewayTimeout time.Duration
}

func NewPurchaseService(db *gorm.DB, ledger *LedgerService, audit *AuditService, gateway ValueGateway, points config.PointsConfig, currency string, gatewayTimeout time.Duration) *PurchaseService {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 30 * time.Second
	}
	return &PurchaseService{
		DB:             db,
		Ledger:         ledger,
		Audit:          audit,
		Gateway:        gateway,
		Points:         points,
		Currency:       currency,
		GatewayTimeout: gatewayTimeout,
	}
}

type InitiatePurchaseDTO struct {
	MemberID  uint             `json:"-"`
	Mode      string           `json:"mode" binding:"required"`
	PackageID string           `json:"package_id"`
	Points    int64            `json:"points"`
	Naira     *decimal.Decimal `json:"naira"`
}

type PurchaseResult struct {
	Purchase         *models.PointPurchase `json:"purchase"`
	AlreadyProcessed bool                  `json:"already_processed"`
	PointsCredited   int64                 `json:"points_credited"`
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (s *PurchaseService) price(data InitiatePurchaseDTO) (points int64, naira, rate decimal.Decimal, err error) {
	switch data.Mode {
	case models.PurchaseModePackage:
		pkg, ok := s.Points.Package(data.PackageID)
		if !ok {
			return 0, decimal.Zero, decimal.Zero, newValidationError("package_id", "unknown package")
		}
		rate = pkg.Naira.DivRound(decimal.NewFromInt(pkg.Points), 6)
		return pkg.Points, pkg.Naira, rate, nil
	case models.PurchaseModeCustom:
		if data.Points < s.Points.CustomMinPoints || data.Points > s.Points.CustomMaxPoints {
			return 0, decimal.Zero, decimal.Zero, newValidationError("points", "custom purchases must be between %d and %d points",
				s.Points.CustomMinPoints, s.Points.CustomMaxPoints)
		}
		rate = s.Points.PurchaseNairaPerPoint
		naira = decimal.NewFromInt(data.Points).Mul(rate).Round(2)
		if data.Naira != nil && data.Naira.Sub(naira).Abs().GreaterThan(s.Points.AmountTolerance) {
			return 0, decimal.Zero, decimal.Zero, newValidationError("naira", "expected %s for %d points", naira.StringFixed(2), data.Points)
		}
		return data.Points, naira, rate, nil
	}
	return 0, decimal.Zero, decimal.Zero, newValidationError("mode", "must be package or custom")
}

// InitiatePurchase records a pending purchase and returns it with the provider checkout link.
func (s *PurchaseService) InitiatePurchase(ctx context.Context, data InitiatePurchaseDTO) (*models.PointPurchase, error) {
	points, naira, rate, err := s.price(data)
	if err != nil {
		return nil, err
	}

	var member models.Member
	if err := s.DB.WithContext(ctx).First(&member, data.MemberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	if !member.IsActive() {
		return nil, ErrMemberInactive
	}

	purchase := &models.PointPurchase{
		Reference:    common.GenerateReference("PUR"),
		MemberID:     data.MemberID,
		Mode:         data.Mode,
		PackageID:    data.PackageID,
		PointsAmount: points,
		NairaAmount:  naira,
		ExchangeRate: rate,
		Status:       models.PurchaseStatusPending,
		Metadata:     datatypes.JSONMap{},
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(purchase).Error; err != nil {
			return err
		}
		return s.Audit.Record(tx, AuditEntry{
			ActorID:    data.MemberID,
			ActorType:  models.ActorMember,
			EntityType: EntityPurchase,
			EntityID:   purchase.ID,
			Action:     "initiated",
			ToStatus:   models.PurchaseStatusPending,
			Metadata:   map[string]interface{}{"points": points, "naira": naira.StringFixed(2)},
		})
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	link, err := s.Gateway.CreatePaymentLink(callCtx, PaymentLinkRequest{
		Reference:   purchase.Reference,
		AmountMinor: minorUnits(naira),
		Email:       member.Email,
		Phone:       member.Phone,
		Name:        member.Username,
		Title:       fmt.Sprintf("%d points", points),
	})
	if err != nil {
		if markErr := s.finalizeFailed(ctx, purchase, "checkout link failed: "+err.Error(), models.ActorSystem, 0); markErr != nil {
			log.WithError(markErr).WithField("reference", purchase.Reference).Error("could not fail purchase")
		}
		return purchase, &ExternalGatewayError{Operation: "create_payment_link", Err: err}
	}

	if err := s.DB.WithContext(ctx).Model(&models.PointPurchase{}).
		Where("id = ?", purchase.ID).Update("checkout_link", link).Error; err != nil {
		return nil, err
	}
	purchase.CheckoutLink = link
	return purchase, nil
}

// finalizeFailed moves a pending purchase to failed. A purchase that already left pending is left alone.
func (s *PurchaseService) finalizeFailed(ctx context.Context, purchase *models.PointPurchase, reason, actorType string, actorID uint) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PointPurchase{}).
			Where("id = ? AND status = ?", purchase.ID, models.PurchaseStatusPending).
			Updates(map[string]interface{}{
				"status":        models.PurchaseStatusFailed,
				"error_message": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyProcessed
		}
		return s.Audit.Record(tx, AuditEntry{
			ActorID:    actorID,
			ActorType:  actorType,
			EntityType: EntityPurchase,
			EntityID:   purchase.ID,
			Action:     "failed",
			FromStatus: models.PurchaseStatusPending,
			ToStatus:   models.PurchaseStatusFailed,
			Metadata:   map[string]interface{}{"reason": reason},
		})
	})
	if err != nil {
		return err
	}
	purchase.Status = models.PurchaseStatusFailed
	purchase.ErrorMessage = reason
	metrics.PurchasesTotal.WithLabelValues("failed").Inc()
	return nil
}

func (s *PurchaseService) findPurchase(ctx context.Context, reference string) (*models.PointPurchase, error) {
	var purchase models.PointPurchase
	err := s.DB.WithContext(ctx).Where("reference = ?", reference).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// VerifyPurchase confirms the charge with the provider and credits the points exactly once.
// memberID restricts the lookup to that member's purchases; 0 means a system caller.
func (s *PurchaseService) VerifyPurchase(ctx context.Context, reference string, memberID uint) (*PurchaseResult, error) {
	purchase, err := s.findPurchase(ctx, reference)
	if err != nil {
		return nil, err
	}
	if memberID != 0 && purchase.MemberID != memberID {
		return nil, ErrPurchaseNotFound
	}

	switch purchase.Status {
	case models.PurchaseStatusSuccess:
		return &PurchaseResult{Purchase: purchase, AlreadyProcessed: true}, nil
	case models.PurchaseStatusFailed:
		// an expired checkout can still be paid late; anything else failed for good
		if purchase.ErrorMessage != purchaseExpiredReason {
			return &PurchaseResult{Purchase: purchase}, ErrInvalidState
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	charge, err := s.Gateway.VerifyCharge(callCtx, reference)
	cancel()
	if err != nil {
		return nil, &ExternalGatewayError{Operation: "verify_charge", OutcomeUnknown: outcomeUnknown(err), Err: err}
	}

	actorType := models.ActorMember
	if memberID == 0 {
		actorType = models.ActorSystem
	}

	switch charge.Status {
	case ChargeStatusPending:
		return &PurchaseResult{Purchase: purchase}, nil
	case ChargeStatusFailed:
		if err := s.finalizeFailed(ctx, purchase, "payment was not successful", actorType, memberID); err != nil && !errors.Is(err, errAlreadyProcessed) {
			return nil, err
		}
		return &PurchaseResult{Purchase: purchase}, nil
	}

	if s.Currency != "" && charge.Currency != "" && charge.Currency != s.Currency {
		reason := fmt.Sprintf("paid in %s, expected %s", charge.Currency, s.Currency)
		if err := s.finalizeFailed(ctx, purchase, reason, actorType, memberID); err != nil && !errors.Is(err, errAlreadyProcessed) {
			return nil, err
		}
		return &PurchaseResult{Purchase: purchase}, nil
	}

	expected := minorUnits(purchase.NairaAmount)
	tolerance := minorUnits(s.Points.AmountTolerance)
	if diff := charge.AmountPaidMinor - expected; diff > tolerance || diff < -tolerance {
		reason := fmt.Sprintf("amount mismatch: paid %d kobo, expected %d kobo", charge.AmountPaidMinor, expected)
		if err := s.finalizeFailed(ctx, purchase, reason, actorType, memberID); err != nil && !errors.Is(err, errAlreadyProcessed) {
			return nil, err
		}
		log.WithField("reference", reference).Warn(reason)
		return &PurchaseResult{Purchase: purchase}, nil
	}

	now := time.Now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the conditional update is what stops two verifiers from both crediting
		res := tx.Model(&models.PointPurchase{}).
			Where("id = ? AND (status = ? OR (status = ? AND error_message = ?))",
				purchase.ID, models.PurchaseStatusPending, models.PurchaseStatusFailed, purchaseExpiredReason).
			Updates(map[string]interface{}{
				"status":             models.PurchaseStatusSuccess,
				"external_reference": charge.ExternalRef,
				"verified_at":        now,
				"error_message":      "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyProcessed
		}

		if _, err := s.Ledger.AddPoints(tx, PointMovementDTO{
			MemberID:        purchase.MemberID,
			Amount:          purchase.PointsAmount,
			TransactionType: models.TxTypePurchase,
			Source:          models.SourceFlutterwave,
			ReferenceType:   models.RefTypePurchase,
			ReferenceID:     purchase.Reference,
			Description:     fmt.Sprintf("Purchased %d points", purchase.PointsAmount),
			Metadata:        map[string]interface{}{"external_reference": charge.ExternalRef},
		}); err != nil {
			return err
		}

		return s.Audit.Record(tx, AuditEntry{
			ActorID:    memberID,
			ActorType:  actorType,
			EntityType: EntityPurchase,
			EntityID:   purchase.ID,
			Action:     "verified",
			FromStatus: purchase.Status,
			ToStatus:   models.PurchaseStatusSuccess,
			Metadata:   map[string]interface{}{"amount_paid_minor": charge.AmountPaidMinor},
		})
	})
	if errors.Is(err, errAlreadyProcessed) {
		fresh, ferr := s.findPurchase(ctx, reference)
		if ferr != nil {
			return nil, ferr
		}
		return &PurchaseResult{Purchase: fresh, AlreadyProcessed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	purchase.Status = models.PurchaseStatusSuccess
	purchase.ExternalReference = charge.ExternalRef
	purchase.ErrorMessage = ""
	purchase.VerifiedAt = &now
	metrics.PurchasesTotal.WithLabelValues("success").Inc()
	log.WithFields(log.Fields{"reference": reference, "member_id": purchase.MemberID, "points": purchase.PointsAmount}).Info("purchase credited")
	return &PurchaseResult{Purchase: purchase, PointsCredited: purchase.PointsAmount}, nil
}

// ExpireStalePurchases fails checkouts left pending past the configured TTL.
func (s *PurchaseService) ExpireStalePurchases(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.Points.PendingPurchaseTTL)

	var stale []models.PointPurchase
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PurchaseStatusPending, cutoff).
		Limit(500).Find(&stale).Error; err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		result, err := s.VerifyPurchase(ctx, stale[i].Reference, 0)
		if err != nil {
			log.WithError(err).WithField("reference", stale[i].Reference).Warn("could not verify stale purchase, expiring anyway")
		} else if result.Purchase.Status != models.PurchaseStatusPending {
			continue
		}

		err = s.finalizeFailed(ctx, &stale[i], purchaseExpiredReason, models.ActorSystem, 0)
		if err == nil {
			expired++
			continue
		}
		if !errors.Is(err, errAlreadyProcessed) {
			log.WithError(err).WithField("reference", stale[i].Reference).Error("failed to expire purchase")
		}
	}
	return expired, nil
}

func (s *PurchaseService) Packages() []config.PurchasePackage {
	return s.Points.Packages
}
