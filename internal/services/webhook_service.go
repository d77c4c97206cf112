package services

import (
	"context"
	"errors"
	"strings"

	"points-service/internal/tasks"

	log "github.com/sirupsen/logrus"
)

// SignatureVerifier checks a provider webhook signature.
type SignatureVerifier interface {
	VerifyWebhook(signature string) bool
}

type FlutterwaveWebhookDTO struct {
	Event     string                 `json:"event"`
	EventType string                 `json:"event.type"`
	Data      map[string]interface{} `json:"data"`
}

type WebhookResult struct {
	Event     string `json:"event"`
	Reference string `json:"reference,omitempty"`
	Handled   bool   `json:"handled"`
	Queued    bool   `json:"queued"`
}

// WebhookService routes provider callbacks. Charge events never credit points themselves;
// they only trigger VerifyPurchase.
type WebhookService struct {
	Verifier    SignatureVerifier
	Purchases   *PurchaseService
	Redemptions *RedemptionService
	Queue       TaskEnqueuer
}

func NewWebhookService(verifier SignatureVerifier, purchases *PurchaseService, redemptions *RedemptionService, queue TaskEnqueuer) *WebhookService {
	return &WebhookService{
		Verifier:    verifier,
		Purchases:   purchases,
		Redemptions: redemptions,
		Queue:       queue,
	}
}

func (s *WebhookService) HandleFlutterwave(ctx context.Context, signature string, dto FlutterwaveWebhookDTO) (*WebhookResult, error) {
	if s.Verifier == nil || !s.Verifier.VerifyWebhook(signature) {
		return nil, ErrInvalidSignature
	}

	event := dto.Event
	if event == "" {
		event = dto.EventType
	}
	result := &WebhookResult{Event: event}
	entry := log.WithField("event", event)

	switch strings.ToLower(event) {
	case "charge.completed":
		ref := stringField(dto.Data, "tx_ref")
		if ref == "" {
			return result, newValidationError("tx_ref", "missing")
		}
		result.Reference = ref
		return result, s.verifyCharge(ctx, ref, result)

	case "transfer.completed", "transfer.success", "transfer.failed", "transfer.reversed":
		ref := stringField(dto.Data, "reference")
		if ref == "" {
			return result, newValidationError("reference", "missing")
		}
		result.Reference = ref
		status := strings.ToUpper(stringField(dto.Data, "status"))
		if status == "" {
			status = strings.ToUpper(strings.TrimPrefix(strings.ToLower(event), "transfer."))
		}
		_, err := s.Redemptions.HandleTransferEvent(ctx, ref, status)
		if errors.Is(err, ErrRedemptionNotFound) {
			entry.WithField("reference", ref).Warn("transfer event for unknown redemption")
			return result, nil
		}
		if err != nil {
			return result, err
		}
		result.Handled = true
		return result, nil
	}

	entry.Debug("ignoring webhook event")
	return result, nil
}

func (s *WebhookService) verifyCharge(ctx context.Context, ref string, result *WebhookResult) error {
	if s.Queue != nil {
		task, err := tasks.NewVerifyPurchaseTask(tasks.VerifyPurchasePayload{Reference: ref})
		if err != nil {
			return err
		}
		_, err = s.Queue.EnqueueContext(ctx, task)
		if err == nil || isDuplicateTask(err) {
			result.Queued = true
			return nil
		}
		log.WithError(err).WithField("reference", ref).Warn("enqueue failed, verifying inline")
	}

	_, err := s.Purchases.VerifyPurchase(ctx, ref, 0)
	if errors.Is(err, ErrPurchaseNotFound) {
		log.WithField("reference", ref).Warn("charge event for unknown purchase")
		return nil
	}
	if err != nil && !errors.Is(err, ErrInvalidState) {
		return err
	}
	result.Handled = true
	return nil
}
