package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// PaymentStatus is a provider's verdict on a fiat collection.
type PaymentStatus string

const (
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentPending    PaymentStatus = "pending"
)

// TransferStatus is a provider's verdict on a payout.
type TransferStatus string

const (
	TransferSuccessful TransferStatus = "successful"
	TransferFailed     TransferStatus = "failed"
	TransferPending    TransferStatus = "pending"
)

// PaymentVerification is the result of polling a provider for a
// collection's status.
type PaymentVerification struct {
	Reference string
	Status    PaymentStatus
	Amount    decimal.Decimal
	Currency  string
	Raw       json.RawMessage
}

// WithdrawalRequest asks a provider to pay out NGN to a bank account.
type WithdrawalRequest struct {
	Reference     string
	Amount        decimal.Decimal
	AccountNumber string
	BankCode      string
	AccountName   string
	Narration     string
}

// WithdrawalResponse carries the provider's handle on an accepted payout.
type WithdrawalResponse struct {
	ProviderReference string
	Status            TransferStatus
	Raw               json.RawMessage
}

// RefundRequest asks a provider to return a collected payment.
type RefundRequest struct {
	PaymentReference string
	Amount           decimal.Decimal
}

// RefundResponse carries the provider's handle on an accepted refund.
type RefundResponse struct {
	RefundReference string
	Raw             json.RawMessage
}

// WebhookEvent is a provider webhook after signature verification and
// normalisation.
type WebhookEvent struct {
	EventID   string
	EventType string
	Reference string
	Status    PaymentStatus
	Amount    decimal.Decimal
	Currency  string
	Raw       json.RawMessage
}

// Provider is one fiat payment rail. Implementations classify every
// failure as an *Error so the engines can decide between retry,
// failover, and refund without knowing which rail they are talking to.
type Provider interface {
	Name() string
	VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error)
	ProcessWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResponse, error)
	GetTransferStatus(ctx context.Context, providerRef string) (TransferStatus, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error)
	VerifyWebhookSignature(header http.Header, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// ErrorKind classifies a provider failure for the failover logic.
type ErrorKind int

const (
	// ErrNetwork: the request never completed; the provider's state is unknown.
	ErrNetwork ErrorKind = iota
	// ErrTimeout: the request timed out; the provider's state is unknown.
	ErrTimeout
	// ErrProvider: the provider answered with a fault on its side.
	ErrProvider
	// ErrInvalidRequest: the provider rejected our request; retrying the
	// same request cannot succeed.
	ErrInvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrTimeout:
		return "timeout"
	case ErrProvider:
		return "provider"
	case ErrInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Error is the classified failure type returned by every provider call.
type Error struct {
	Provider string
	Kind     ErrorKind
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether a later attempt, possibly against another
// provider, could succeed.
func (e *Error) Recoverable() bool {
	return e.Kind == ErrNetwork || e.Kind == ErrTimeout || e.Kind == ErrProvider
}
