package services

import (
	"context"
	"errors"
	"net"
)

// ValueGateway is the external billing and transfer provider. All amounts are in minor units (kobo).
type ValueGateway interface {
	PurchaseAirtime(ctx context.Context, phone string, amountMinor int64, reference string) (string, error)
	PurchaseData(ctx context.Context, phone string, amountMinor int64, reference, billerCode, itemCode string) (string, error)
	VerifyBankAccount(ctx context.Context, accountNumber, bankCode string) (string, error)
	InitiateBankTransfer(ctx context.Context, req BankTransferRequest) (*BankTransferResult, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error)
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (string, error)
}

type BankTransferRequest struct {
	BankCode        string
	AccountNumber   string
	AmountMinor     int64
	Reference       string
	BeneficiaryName string
	Narration       string
}

type BankTransferResult struct {
	TransferID string
	Status     string
}

const (
	ChargeStatusSuccess = "success"
	ChargeStatusPending = "pending"
	ChargeStatusFailed  = "failed"
)

type ChargeVerification struct {
	Status          string
	AmountPaidMinor int64
	Currency        string
	ExternalRef     string
}

type PaymentLinkRequest struct {
	Reference   string
	AmountMinor int64
	Email       string
	Phone       string
	Name        string
	Title       string
}

// outcomeUnknown reports whether a gateway error leaves it undetermined if value was sent.
// Timeouts and provider-side 5xx responses qualify; explicit rejections and failed dials do not.
func outcomeUnknown(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode >= 500
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	return true
}
