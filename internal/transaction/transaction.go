package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// FailureReason values stored in error_message when a transaction
// reaches a terminal failure. The API layer translates these into
// human-readable text; the core never surfaces raw external errors.
const (
	ReasonPaymentTimeout          = "PAYMENT_TIMEOUT"
	ReasonPaymentFailed           = "PAYMENT_FAILED"
	ReasonAmountMismatch          = "AMOUNT_MISMATCH"
	ReasonTrustlineNotFound       = "TRUSTLINE_NOT_FOUND"
	ReasonInsufficientCngnBalance = "INSUFFICIENT_CNGN_BALANCE"
	ReasonStellarPermanentError   = "STELLAR_PERMANENT_ERROR"
	ReasonTransferFailed          = "TRANSFER_FAILED"
	ReasonTransferTimeout         = "TRANSFER_TIMEOUT"
	ReasonRefundFailed            = "REFUND_FAILED"
	ReasonQuoteExpired            = "QUOTE_EXPIRED"
)

// Transaction is the central entity of the bridge. Amounts are fixed at
// quote time and never recomputed during processing; ToAmount in
// particular is immutable for the life of the row.
type Transaction struct {
	ID               string          `json:"id"`
	Direction        Direction       `json:"direction"`
	Status           Status          `json:"status"`
	FromAmount       decimal.Decimal `json:"from_amount"`
	FromCurrency     string          `json:"from_currency"`
	ToAmount         decimal.Decimal `json:"to_amount"`
	ToCurrency       string          `json:"to_currency"`
	WalletAddress    string          `json:"wallet_address"`
	PaymentProvider  string          `json:"payment_provider,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	BlockchainTxHash string          `json:"blockchain_tx_hash,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	Metadata         Metadata        `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PendingFor reports how long the transaction has been waiting since
// creation. Used by the timeout sweeps.
func (t *Transaction) PendingFor(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// IncomingStellarHash returns the hash of the user's inbound cNGN
// payment for an offramp transaction. Deposit reports write
// incoming_hash; stellar_tx_hash is honoured too for rows recorded
// by external tooling against the same schema.
func (t *Transaction) IncomingStellarHash() string {
	if t.Metadata.StellarTxHash != "" {
		return t.Metadata.StellarTxHash
	}
	return t.Metadata.IncomingHash
}
