package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// HousekeepingService runs the periodic sweeps: expiring abandoned checkouts and
// flagging redemptions stuck in pending.
type HousekeepingService struct {
	Purchases   *PurchaseService
	Redemptions *RedemptionService
	cron        *cron.Cron
}

func NewHousekeepingService(purchases *PurchaseService, redemptions *RedemptionService) *HousekeepingService {
	return &HousekeepingService{Purchases: purchases, Redemptions: redemptions}
}

func (s *HousekeepingService) ExpirePurchases() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.Purchases.ExpireStalePurchases(ctx)
	if err != nil {
		log.WithError(err).Error("purchase expiry sweep failed")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("expired stale purchases")
	}
}

func (s *HousekeepingService) FlagRedemptions() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.Redemptions.FlagStaleRedemptions(ctx)
	if err != nil {
		log.WithError(err).Error("stale redemption sweep failed")
		return
	}
	if n > 0 {
		log.WithField("count", n).Warn("flagged stale redemptions for reconciliation")
	}
}

// StartScheduler registers both sweeps and starts the cron runner.
func (s *HousekeepingService) StartScheduler() error {
	c := cron.New()
	if _, err := c.AddFunc("*/10 * * * *", s.ExpirePurchases); err != nil {
		return err
	}
	if _, err := c.AddFunc("*/5 * * * *", s.FlagRedemptions); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	log.Info("housekeeping scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *HousekeepingService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
