package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TypeReconciliationAlert = "redemption:reconciliation-alert"
	TypeVerifyPurchase      = "purchase:verify"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// ReconciliationAlertPayload describes a redemption an operator must settle by hand.
type ReconciliationAlertPayload struct {
	RedemptionID      uint   `json:"redemption_id"`
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference,omitempty"`
	MemberID          uint   `json:"member_id"`
	Points            int64  `json:"points"`
	Reason            string `json:"reason"`
}

type VerifyPurchasePayload struct {
	Reference string `json:"reference"`
}

func NewReconciliationAlertTask(payload ReconciliationAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconciliationAlert, data, asynq.Queue(QueueCritical), asynq.MaxRetry(10)), nil
}

func NewVerifyPurchaseTask(payload VerifyPurchasePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// one verification per reference in flight; webhook retries collapse onto it
	return asynq.NewTask(TypeVerifyPurchase, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID("verify:"+payload.Reference),
		asynq.MaxRetry(5),
	), nil
}
