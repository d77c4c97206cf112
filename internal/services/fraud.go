package services

import "context"

type FraudCheckInput struct {
	MemberID    uint
	Action      string
	ProductType string
	Points      int64
	Destination string
}

// FraudDecision is the scoring collaborator's verdict. Severity is informational and stored with the record.
type FraudDecision struct {
	Allowed  bool
	Severity int
	Reason   string
}

type FraudChecker interface {
	Check(ctx context.Context, input FraudCheckInput) (FraudDecision, error)
}

// AllowAllFraudChecker is used when no scoring service is configured.
type AllowAllFraudChecker struct{}

func (AllowAllFraudChecker) Check(ctx context.Context, input FraudCheckInput) (FraudDecision, error) {
	return FraudDecision{Allowed: true}, nil
}
