package transaction

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is the schema-typed but schema-extensible bag attached to
// every transaction row. Offramp rows carry bank details from creation;
// the engines grow the rest as they advance the transaction. Merges are
// read-modify-write and always happen under the row lock, so partial
// structs marshalled with omitempty merge safely into the stored JSON.
type Metadata struct {
	// Bank details (offramp; required at creation)
	AccountName   string `json:"account_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`

	// Stellar tracking
	StellarTxHash      string `json:"stellar_tx_hash,omitempty"`
	IncomingHash       string `json:"incoming_hash,omitempty"`
	StellarLedger      int32  `json:"stellar_ledger,omitempty"`
	StellarConfirmedAt string `json:"stellar_confirmed_at,omitempty"`

	// Provider tracking
	ProviderName      string          `json:"provider_name,omitempty"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	ProviderResponse  json.RawMessage `json:"provider_response,omitempty"`

	// Retry tracking; NextRetryAfter is the single source of truth for
	// when a transaction becomes eligible for another attempt. The two
	// attempt counters are stage-scoped so a merge never carries one
	// stage's count into the next.
	RetryCount           int    `json:"retry_count,omitempty"`
	TransferPollAttempts int    `json:"transfer_poll_attempts,omitempty"`
	LastRetryAt          string `json:"last_retry_at,omitempty"`
	NextRetryAfter       string `json:"next_retry_after,omitempty"`
	TransferStartedAt    string `json:"transfer_started_at,omitempty"`

	// Failure tracking
	FailureReason string `json:"failure_reason,omitempty"`

	// Refund tracking
	RefundTxHash      string `json:"refund_tx_hash,omitempty"`
	RefundReference   string `json:"refund_reference,omitempty"`
	RefundAmount      string `json:"refund_amount,omitempty"`
	RefundConfirmedAt string `json:"refund_confirmed_at,omitempty"`

	// Lock bookkeeping (diagnostic; the row lock is the real mechanism)
	LockedAt string `json:"locked_at,omitempty"`
	LockedBy string `json:"locked_by,omitempty"`
}

// HasBankDetails reports whether the minimum offramp payout fields are present.
func (m *Metadata) HasBankDetails() bool {
	return m.AccountName != "" && m.AccountNumber != "" && m.BankCode != ""
}

// RetryEligible reports whether the next_retry_after gate has passed.
// An unset or unparseable gate never blocks progress.
func (m *Metadata) RetryEligible(now time.Time) bool {
	if m.NextRetryAfter == "" {
		return true
	}
	gate, err := time.Parse(time.RFC3339, m.NextRetryAfter)
	if err != nil {
		return true
	}
	return !now.Before(gate)
}

// ScheduleRetry records attempt bookkeeping and arms the retry gate.
func (m *Metadata) ScheduleRetry(attempt int, delay time.Duration, now time.Time) {
	m.RetryCount = attempt
	m.LastRetryAt = now.UTC().Format(time.RFC3339)
	m.NextRetryAfter = now.UTC().Add(delay).Format(time.RFC3339)
}

// ToJSON marshals the metadata for an atomic merge into the stored row.
func (m *Metadata) ToJSON() json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// MetadataFromJSON parses stored metadata. A null or empty document
// yields the zero value.
func MetadataFromJSON(raw json.RawMessage) (Metadata, error) {
	var m Metadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse transaction metadata: %w", err)
	}
	return m, nil
}
