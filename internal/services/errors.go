package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient point balance")
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberInactive      = errors.New("member is not active")
	ErrTaskNotFound        = errors.New("task not found")
	ErrRedemptionNotFound  = errors.New("redemption not found")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrForbidden           = errors.New("operation not permitted for this member")
	ErrInvalidState        = errors.New("record is not in a state that allows this operation")
	ErrFraudRejected       = errors.New("request blocked by fraud screening")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
)

// ValidationError is returned before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DuplicateRequestError reports an idempotency key that already produced a redemption.
type DuplicateRequestError struct {
	IdempotencyKey string
	Existing       interface{}
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("a request with idempotency key %q was already processed", e.IdempotencyKey)
}

// ExternalGatewayError means the provider call failed or its outcome is unknown. No points moved.
type ExternalGatewayError struct {
	Operation      string
	RedemptionID   uint
	OutcomeUnknown bool
	Err            error
}

func (e *ExternalGatewayError) Error() string {
	if e.OutcomeUnknown {
		return fmt.Sprintf("%s outcome unknown: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ExternalGatewayError) Unwrap() error {
	return e.Err
}

// ReconciliationRequiredError means value left the platform but the points debit did not commit.
// It must be shown to the member as a support case and never retried automatically.
type ReconciliationRequiredError struct {
	RedemptionID      uint
	Reference         string
	ExternalReference string
	Err               error
}

func (e *ReconciliationRequiredError) Error() string {
	return fmt.Sprintf("redemption %s delivered (provider ref %s) but points were not debited: %v",
		e.Reference, e.ExternalReference, e.Err)
}

func (e *ReconciliationRequiredError) Unwrap() error {
	return e.Err
}

// GatewayError is a provider response that was received but rejected the operation.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Message)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
