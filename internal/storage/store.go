package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/transaction"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = stderrors.New("not found")
	// ErrQuoteConsumed is returned when a quote has already been used.
	ErrQuoteConsumed = stderrors.New("quote already consumed")
	// ErrQuoteExpired is returned when a quote's TTL has elapsed.
	ErrQuoteExpired = stderrors.New("quote expired")
)

// guardTransition rejects a status pair absent from both transition
// tables before any write is issued. A zero-row conditional update is a
// lost race and stays silent; an illegal pair is a code bug and must
// surface as an error instead of masquerading as one.
func guardTransition(expected, next transaction.Status) error {
	if transaction.ValidTransition(expected, next) {
		return nil
	}
	return errors.New(errors.KindInvariant, errors.ErrCodeInvalidTransition,
		fmt.Sprintf("illegal status transition %s -> %s", expected, next))
}

// TransactionStore is the repository for bridge transactions. Every
// method is a single database round trip; batch-selection methods use
// row locking with skip so concurrent processor instances never pick
// the same rows.
type TransactionStore interface {
	Create(ctx context.Context, tx *transaction.Transaction) error
	FindByID(ctx context.Context, id string) (*transaction.Transaction, error)
	FindByPaymentReference(ctx context.Context, ref string) (*transaction.Transaction, error)

	// FindByStatus selects up to limit transactions in the given status,
	// oldest first, locking the selected rows and skipping rows already
	// locked by another processor.
	FindByStatus(ctx context.Context, direction transaction.Direction, status transaction.Status, limit int) ([]*transaction.Transaction, error)

	// FindPendingOlderThan selects onramp pending transactions created
	// before the cutoff, for the timeout sweep.
	FindPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error)

	// FindPendingWithoutWebhook selects onramp pending transactions
	// created before the cutoff that have no processed webhook event on
	// record, for the provider polling fallback. A recorded event whose
	// dispatch failed does not count: the transaction must stay visible
	// to polling until something actually acted on it.
	FindPendingWithoutWebhook(ctx context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error)

	// UpdateStatus transitions a transaction only if it is currently in
	// expected status. Returns false when the row was not in the
	// expected status, which means another actor won the race. A pair
	// outside the transition tables is rejected with an invariant error
	// before any write happens.
	UpdateStatus(ctx context.Context, id string, expected, next transaction.Status) (bool, error)

	// UpdateStatusWithMetadata is UpdateStatus plus a metadata merge in
	// the same statement. Keys in patch overwrite existing keys; other
	// metadata is preserved.
	UpdateStatusWithMetadata(ctx context.Context, id string, expected, next transaction.Status, patch *transaction.Metadata) (bool, error)

	// MergeMetadata merges patch into the transaction's metadata without
	// touching status.
	MergeMetadata(ctx context.Context, id string, patch *transaction.Metadata) error

	// UpdateStatusWithError is the terminal-failure transition: status,
	// error message, and metadata change in one statement so a terminal
	// row is never written piecemeal.
	UpdateStatusWithError(ctx context.Context, id string, expected, next transaction.Status, errorMsg string, patch *transaction.Metadata) (bool, error)

	// SetBlockchainTxHash records the Stellar hash only if none is set,
	// so a crashed-and-retried submission never overwrites the trail.
	SetBlockchainTxHash(ctx context.Context, id, hash string) (bool, error)
}

// WebhookEvent is one received provider webhook, recorded for
// idempotency before any processing happens.
type WebhookEvent struct {
	ID              string
	Provider        string
	ProviderEventID string
	TransactionID   string
	EventType       string
	Payload         []byte
	Processed       bool
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// WebhookStore records provider webhooks with at-most-once semantics
// on (provider, provider_event_id).
type WebhookStore interface {
	// Insert records the event. Returns false when an event with the
	// same (provider, provider_event_id) already exists.
	Insert(ctx context.Context, ev *WebhookEvent) (bool, error)
	// MarkProcessed flags the event after its dispatch ran, releasing
	// the transaction from the polling fallback.
	MarkProcessed(ctx context.Context, id string) error
}

// Quote is a short-lived fixed-rate offer, consumed exactly once when
// the user confirms.
type Quote struct {
	ID         string
	Direction  transaction.Direction
	Rate       decimal.Decimal
	AmountNGN  decimal.Decimal
	FeeNGN     decimal.Decimal
	AmountCngn decimal.Decimal
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// QuoteStore persists quotes and enforces consume-once.
type QuoteStore interface {
	Create(ctx context.Context, q *Quote) error
	FindByID(ctx context.Context, id string) (*Quote, error)
	// Consume marks the quote consumed. Returns ErrQuoteConsumed if it
	// was already consumed and ErrQuoteExpired if its TTL has elapsed.
	Consume(ctx context.Context, id string, now time.Time) (*Quote, error)
}
