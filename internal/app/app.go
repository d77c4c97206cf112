package app

import (
	"points-service/internal/config"
	"points-service/internal/services"

	"gorm.io/gorm"
)

// Services is the wired service graph shared by the API and the worker.
type Services struct {
	Ledger       *services.LedgerService
	Audit        *services.AuditService
	Funding      *services.FundingService
	Flutterwave  *services.FlutterwaveService
	Redemptions  *services.RedemptionService
	Purchases    *services.PurchaseService
	Webhooks     *services.WebhookService
	Housekeeping *services.HousekeepingService
}

// NewServices builds every service. queue may be nil, in which case alerts are only logged
// and charge webhooks are verified inline.
func NewServices(cfg *config.Config, db *gorm.DB, queue services.TaskEnqueuer) *Services {
	ledger := services.NewLedgerService(db)
	audit := services.NewAuditService(db)
	flutterwave := services.NewFlutterwaveService(db, cfg.Flutterwave)

	redemptions := services.NewRedemptionService(db, ledger, audit, flutterwave, services.AllowAllFraudChecker{},
		queue, cfg.Points, cfg.Flutterwave.Timeout)
	purchases := services.NewPurchaseService(db, ledger, audit, flutterwave, cfg.Points,
		cfg.Flutterwave.Currency, cfg.Flutterwave.Timeout)

	return &Services{
		Ledger:       ledger,
		Audit:        audit,
		Funding:      services.NewFundingService(db, ledger, audit),
		Flutterwave:  flutterwave,
		Redemptions:  redemptions,
		Purchases:    purchases,
		Webhooks:     services.NewWebhookService(flutterwave, purchases, redemptions, queue),
		Housekeeping: services.NewHousekeepingService(purchases, redemptions),
	}
}
