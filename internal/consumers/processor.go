package consumers

import (
	"context"
	"errors"
	"fmt"

	"points-service/internal/models"
	"points-service/internal/services"
	"points-service/internal/tasks"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// ErrChargePending is returned while the provider still reports the charge as pending,
// so the queue retries the verification later.
var ErrChargePending = errors.New("charge still pending")

type Processor struct {
	Redemptions *services.RedemptionService
	Purchases   *services.PurchaseService
}

func NewProcessor(redemptions *services.RedemptionService, purchases *services.PurchaseService) *Processor {
	return &Processor{
		Redemptions: redemptions,
		Purchases:   purchases,
	}
}

// ProcessReconciliationAlert surfaces a redemption that needs an operator. Alerts for
// records already reconciled are dropped.
func (p *Processor) ProcessReconciliationAlert(ctx context.Context, data tasks.ReconciliationAlertPayload) error {
	rec, err := p.Redemptions.GetRedemption(ctx, 0, data.RedemptionID)
	if errors.Is(err, services.ErrRedemptionNotFound) {
		return fmt.Errorf("redemption %d: %w", data.RedemptionID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	fields := log.Fields{
		"redemption_id":      data.RedemptionID,
		"reference":          data.Reference,
		"external_reference": data.ExternalReference,
		"member_id":          data.MemberID,
		"points":             data.Points,
		"reason":             data.Reason,
	}
	if !rec.NeedsReconciliation() {
		log.WithFields(fields).Info("reconciliation alert for settled redemption, skipping")
		return nil
	}
	log.WithFields(fields).WithField(models.MetaFlutterwaveSucceeded, rec.Flag(models.MetaFlutterwaveSucceeded)).
		Error("redemption requires manual reconciliation")
	return nil
}

func (p *Processor) ProcessVerifyPurchase(ctx context.Context, data tasks.VerifyPurchasePayload) error {
	result, err := p.Purchases.VerifyPurchase(ctx, data.Reference, 0)
	switch {
	case errors.Is(err, services.ErrPurchaseNotFound):
		return fmt.Errorf("purchase %s: %w", data.Reference, asynq.SkipRetry)
	case errors.Is(err, services.ErrInvalidState):
		// already failed, nothing to credit
		return nil
	case err != nil:
		return err
	}

	if result.Purchase.Status == models.PurchaseStatusPending {
		return ErrChargePending
	}
	log.WithFields(log.Fields{
		"reference":         data.Reference,
		"status":            result.Purchase.Status,
		"already_processed": result.AlreadyProcessed,
	}).Info("purchase verification processed")
	return nil
}
