package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"points-service/internal/metrics"
	"points-service/internal/models"
	"points-service/pkg/common"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type sagaPhase string

const (
	phaseValidate  sagaPhase = "validate"
	phaseRecord    sagaPhase = "record"
	phaseDispatch  sagaPhase = "dispatch"
	phaseAnchor    sagaPhase = "anchor"
	phaseSettle    sagaPhase = "settle"
	phaseCompleted sagaPhase = "completed"
	phaseRejected  sagaPhase = "rejected"
	phaseFailed    sagaPhase = "failed"
	phaseReconcile sagaPhase = "reconcile"
)

func (p sagaPhase) terminal() bool {
	switch p {
	case phaseCompleted, phaseRejected, phaseFailed:
		return true
	}
	return false
}

var (
	msisdnPattern   = regexp.MustCompile(`^(?:\+?234|0)([789][01]\d{8})$`)
	nubanPattern    = regexp.MustCompile(`^\d{10}$`)
	bankCodePattern = regexp.MustCompile(`^\d{3,6}$`)
)

// normalizeMSISDN returns the number in +234 form, or "" when it is not a Nigerian mobile number.
func normalizeMSISDN(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	m := msisdnPattern.FindStringSubmatch(phone)
	if m == nil {
		return ""
	}
	return "+234" + m[1]
}

// redemptionSaga drives one redemption through
// validate -> record -> dispatch -> anchor -> settle -> completed.
// A failure before record ends in rejected with nothing written. A dispatch failure ends in failed
// with no points moved. A settle failure after value was sent ends in reconcile, which marks the
// record for an operator and finishes as failed.
type redemptionSaga struct {
	svc   *RedemptionService
	req   RedeemDTO
	phase sagaPhase

	nairaValue    decimal.Decimal
	amountMinor   int64
	destination   string
	accountName   string
	fraudSeverity int

	record      *models.PointRedemption
	externalRef string
	err         error
}

func newRedemptionSaga(svc *RedemptionService, req RedeemDTO) *redemptionSaga {
	return &redemptionSaga{svc: svc, req: req, phase: phaseValidate}
}

func (g *redemptionSaga) run(ctx context.Context) (*models.PointRedemption, error) {
	for !g.phase.terminal() {
		stepCtx := ctx
		if g.record != nil {
			// writes after the pending row exists must land even if the caller disconnects
			stepCtx = context.WithoutCancel(ctx)
		}
		next := g.step(stepCtx)
		log.WithFields(log.Fields{
			"member_id": g.req.MemberID,
			"product":   g.req.ProductType,
			"from":      g.phase,
			"to":        next,
		}).Debug("redemption saga transition")
		g.phase = next
	}

	outcome := string(g.phase)
	var reconcile *ReconciliationRequiredError
	if errors.As(g.err, &reconcile) {
		outcome = string(phaseReconcile)
	}
	metrics.RedemptionsTotal.WithLabelValues(g.req.ProductType, outcome).Inc()
	return g.record, g.err
}

func (g *redemptionSaga) step(ctx context.Context) sagaPhase {
	switch g.phase {
	case phaseValidate:
		return g.validate(ctx)
	case phaseRecord:
		return g.recordIntent(ctx)
	case phaseDispatch:
		return g.dispatch(ctx)
	case phaseAnchor:
		return g.anchor(ctx)
	case phaseSettle:
		return g.settle(ctx)
	case phaseReconcile:
		return g.reconcile(ctx)
	}
	g.err = fmt.Errorf("redemption saga in unknown phase %q", g.phase)
	return phaseFailed
}

func (g *redemptionSaga) reject(err error) sagaPhase {
	g.err = err
	return phaseRejected
}

// validate checks everything that can be checked without writing.
func (g *redemptionSaga) validate(ctx context.Context) sagaPhase {
	req := &g.req
	cfg := g.svc.Points

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return g.reject(newValidationError("idempotency_key", "is required"))
	}
	if len(req.IdempotencyKey) > 128 {
		return g.reject(newValidationError("idempotency_key", "must be at most 128 characters"))
	}

	limit, ok := cfg.Limit(req.ProductType)
	if !ok {
		return g.reject(newValidationError("product_type", "must be one of airtime, data, cash"))
	}
	if req.Points < limit.MinPoints || req.Points > limit.MaxPoints {
		return g.reject(newValidationError("points", "%s redemptions must be between %d and %d points",
			req.ProductType, limit.MinPoints, limit.MaxPoints))
	}

	g.nairaValue = decimal.NewFromInt(req.Points).Mul(cfg.NairaPerPoint).Round(2)
	g.amountMinor = g.nairaValue.Shift(2).IntPart()
	if g.amountMinor <= 0 {
		return g.reject(newValidationError("points", "redeemed value is zero at the current rate"))
	}

	switch req.ProductType {
	case models.ProductAirtime, models.ProductData:
		phone := normalizeMSISDN(req.PhoneNumber)
		if phone == "" {
			return g.reject(newValidationError("phone_number", "must be a valid Nigerian mobile number"))
		}
		req.PhoneNumber = phone
		g.destination = phone
		if req.ProductType == models.ProductData && strings.TrimSpace(req.BillerCode) == "" {
			return g.reject(newValidationError("biller_code", "is required for data redemptions"))
		}
	case models.ProductCash:
		if !nubanPattern.MatchString(req.AccountNumber) {
			return g.reject(newValidationError("account_number", "must be a 10-digit NUBAN"))
		}
		if !bankCodePattern.MatchString(req.BankCode) {
			return g.reject(newValidationError("bank_code", "is invalid"))
		}
		g.destination = req.BankCode + ":" + req.AccountNumber
	}

	decision, err := g.svc.Fraud.Check(ctx, FraudCheckInput{
		MemberID:    req.MemberID,
		Action:      "redeem",
		ProductType: req.ProductType,
		Points:      req.Points,
		Destination: g.destination,
	})
	if err != nil {
		return g.reject(fmt.Errorf("fraud screening unavailable: %w", err))
	}
	if !decision.Allowed {
		log.WithFields(log.Fields{"member_id": req.MemberID, "severity": decision.Severity, "reason": decision.Reason}).
			Warn("redemption blocked by fraud screening")
		return g.reject(ErrFraudRejected)
	}
	g.fraudSeverity = decision.Severity

	if req.ProductType == models.ProductCash {
		// only the provider's resolved name is trusted
		callCtx, cancel := context.WithTimeout(ctx, g.svc.GatewayTimeout)
		name, err := g.svc.Gateway.VerifyBankAccount(callCtx, req.AccountNumber, req.BankCode)
		cancel()
		if err != nil {
			var gwErr *GatewayError
			if errors.As(err, &gwErr) && gwErr.StatusCode < 500 {
				return g.reject(newValidationError("account_number", "bank account could not be verified"))
			}
			return g.reject(&ExternalGatewayError{Operation: "verify_bank_account", Err: err})
		}
		g.accountName = name
	}

	return phaseRecord
}

// recordIntent is Phase 1: one transaction that claims the idempotency key and reserves the points.
func (g *redemptionSaga) recordIntent(ctx context.Context) sagaPhase {
	req := g.req
	record := &models.PointRedemption{
		Reference:      common.GenerateReference("RDM"),
		MemberID:       req.MemberID,
		IdempotencyKey: req.IdempotencyKey,
		ProductType:    req.ProductType,
		NairaValue:     g.nairaValue,
		PointsDebited:  req.Points,
		Status:         models.RedemptionStatusPending,
		Metadata: datatypes.JSONMap{
			models.MetaIdempotencyKey: req.IdempotencyKey,
			models.MetaFraudSeverity:  g.fraudSeverity,
		},
	}
	switch req.ProductType {
	case models.ProductCash:
		record.AccountNumber = req.AccountNumber
		record.BankCode = req.BankCode
		record.AccountName = g.accountName
	default:
		record.PhoneNumber = req.PhoneNumber
		record.BillerCode = req.BillerCode
		record.ItemCode = req.ItemCode
	}

	err := g.svc.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := g.svc.Ledger.LockMember(tx, req.MemberID)
		if err != nil {
			return err
		}

		var existing models.PointRedemption
		found := tx.Where("member_id = ? AND idempotency_key = ?", req.MemberID, req.IdempotencyKey).
			Limit(1).Find(&existing)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected > 0 {
			return &DuplicateRequestError{IdempotencyKey: req.IdempotencyKey, Existing: existing}
		}

		if !member.IsActive() {
			return ErrMemberInactive
		}

		available, err := g.svc.Ledger.AvailableBalance(tx, req.MemberID)
		if err != nil {
			return err
		}
		if available < req.Points {
			return ErrInsufficientBalance
		}

		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return g.svc.Audit.Record(tx, AuditEntry{
			ActorID:    req.MemberID,
			ActorType:  models.ActorMember,
			EntityType: EntityRedemption,
			EntityID:   record.ID,
			Action:     "requested",
			ToStatus:   models.RedemptionStatusPending,
			Metadata:   map[string]interface{}{"points": req.Points, "product_type": req.ProductType},
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			// lost a race on the same key; report the winner
			var existing models.PointRedemption
			if g.svc.DB.WithContext(ctx).
				Where("member_id = ? AND idempotency_key = ?", req.MemberID, req.IdempotencyKey).
				First(&existing).Error == nil {
				err = &DuplicateRequestError{IdempotencyKey: req.IdempotencyKey, Existing: existing}
			}
		}
		return g.reject(err)
	}

	g.record = record
	return phaseDispatch
}

// dispatch is Phase 2: the provider call, outside any transaction and bounded by the gateway timeout.
func (g *redemptionSaga) dispatch(ctx context.Context) sagaPhase {
	callCtx, cancel := context.WithTimeout(ctx, g.svc.GatewayTimeout)
	defer cancel()

	rec := g.record
	var (
		ref       string
		err       error
		operation string
	)
	switch rec.ProductType {
	case models.ProductAirtime:
		operation = "purchase_airtime"
		ref, err = g.svc.Gateway.PurchaseAirtime(callCtx, rec.PhoneNumber, g.amountMinor, rec.Reference)
	case models.ProductData:
		operation = "purchase_data"
		ref, err = g.svc.Gateway.PurchaseData(callCtx, rec.PhoneNumber, g.amountMinor, rec.Reference, rec.BillerCode, rec.ItemCode)
	case models.ProductCash:
		operation = "initiate_transfer"
		var res *BankTransferResult
		res, err = g.svc.Gateway.InitiateBankTransfer(callCtx, BankTransferRequest{
			BankCode:        rec.BankCode,
			AccountNumber:   rec.AccountNumber,
			AmountMinor:     g.amountMinor,
			Reference:       rec.Reference,
			BeneficiaryName: rec.AccountName,
		})
		if err == nil {
			if strings.EqualFold(res.Status, "FAILED") {
				err = &GatewayError{StatusCode: 400, Message: "transfer rejected by provider"}
			} else {
				ref = res.TransferID
			}
		}
	}

	if err != nil {
		unknown := outcomeUnknown(err)
		flags := map[string]interface{}{
			models.MetaFailedPhase: string(phaseDispatch),
		}
		if unknown {
			flags[models.MetaOutcomeUnknown] = true
			flags[models.MetaNeedsReconciliation] = true
		}
		if markErr := g.svc.markFailed(ctx, rec, err.Error(), flags, nil, models.ActorSystem, 0); markErr != nil {
			log.WithError(markErr).WithField("reference", rec.Reference).Error("could not mark redemption failed after gateway error")
		}
		if unknown {
			g.svc.alert(ctx, rec, "gateway outcome unknown: "+err.Error())
		}
		g.err = &ExternalGatewayError{Operation: operation, RedemptionID: rec.ID, OutcomeUnknown: unknown, Err: err}
		return phaseFailed
	}

	if ref == "" {
		ref = rec.Reference
	}
	g.externalRef = ref
	return phaseAnchor
}

// anchor persists proof that value left the platform before any debit is attempted.
func (g *redemptionSaga) anchor(ctx context.Context) sagaPhase {
	res := g.svc.DB.WithContext(ctx).Model(&models.PointRedemption{}).
		Where("id = ? AND status = ?", g.record.ID, models.RedemptionStatusPending).
		Update("flutterwave_reference", g.externalRef)
	if res.Error == nil && res.RowsAffected == 1 {
		g.record.FlutterwaveReference = &g.externalRef
		return phaseSettle
	}

	g.err = res.Error
	if g.err == nil {
		g.err = ErrInvalidState
	}
	g.err = fmt.Errorf("anchor external reference: %w", g.err)
	return phaseReconcile
}

// settle is Phase 3: the final race-safe debit and the pending -> completed transition.
func (g *redemptionSaga) settle(ctx context.Context) sagaPhase {
	rec := g.record
	now := time.Now()
	err := g.svc.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := g.svc.Ledger.DeductPoints(tx, PointMovementDTO{
			MemberID:        rec.MemberID,
			Amount:          rec.PointsDebited,
			TransactionType: models.TxTypeRedemption,
			Source:          models.SourceRedemption,
			ReferenceType:   models.RefTypeRedemption,
			ReferenceID:     rec.Reference,
			Description:     fmt.Sprintf("%s redemption", rec.ProductType),
			Metadata:        map[string]interface{}{"flutterwave_reference": g.externalRef},
		}); err != nil {
			return err
		}

		res := tx.Model(&models.PointRedemption{}).
			Where("id = ? AND status = ?", rec.ID, models.RedemptionStatusPending).
			Updates(map[string]interface{}{
				"status":       models.RedemptionStatusCompleted,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrInvalidState
		}

		return g.svc.Audit.Record(tx, AuditEntry{
			ActorID:    rec.MemberID,
			ActorType:  models.ActorSystem,
			EntityType: EntityRedemption,
			EntityID:   rec.ID,
			Action:     "completed",
			FromStatus: models.RedemptionStatusPending,
			ToStatus:   models.RedemptionStatusCompleted,
			Metadata:   map[string]interface{}{"flutterwave_reference": g.externalRef},
		})
	})
	if err != nil {
		g.err = err
		return phaseReconcile
	}

	rec.Status = models.RedemptionStatusCompleted
	rec.CompletedAt = &now
	log.WithFields(log.Fields{
		"reference": rec.Reference,
		"member_id": rec.MemberID,
		"points":    rec.PointsDebited,
	}).Info("redemption completed")
	return phaseCompleted
}

// reconcile flags a redemption whose value was delivered but whose debit did not commit.
// The debit is never retried here.
func (g *redemptionSaga) reconcile(ctx context.Context) sagaPhase {
	rec := g.record
	cause := g.err
	flags := map[string]interface{}{
		models.MetaFlutterwaveSucceeded: true,
		models.MetaPhase3Error:          cause.Error(),
		models.MetaNeedsReconciliation:  true,
		models.MetaFailedPhase:          string(phaseSettle),
	}
	ref := g.externalRef
	if err := g.svc.markFailed(ctx, rec, "points debit failed after value was delivered: "+cause.Error(), flags, &ref, models.ActorSystem, 0); err != nil {
		// the stale-redemption sweep will flag it from the anchored reference
		log.WithError(err).WithField("reference", rec.Reference).Error("could not flag redemption for reconciliation")
	}
	g.svc.alert(ctx, rec, cause.Error())

	log.WithFields(log.Fields{
		"reference":             rec.Reference,
		"member_id":             rec.MemberID,
		"flutterwave_reference": ref,
	}).WithError(cause).Error("redemption requires reconciliation")

	g.err = &ReconciliationRequiredError{
		RedemptionID:      rec.ID,
		Reference:         rec.Reference,
		ExternalReference: ref,
		Err:               cause,
	}
	return phaseFailed
}
