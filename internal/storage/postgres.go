package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nairabridge/server/internal/metrics"
	"github.com/nairabridge/server/internal/transaction"
)

const transactionsDDL = `
CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	direction TEXT NOT NULL,
	status TEXT NOT NULL,
	from_amount NUMERIC(20,7) NOT NULL,
	from_currency TEXT NOT NULL,
	to_amount NUMERIC(20,7) NOT NULL,
	to_currency TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	payment_provider TEXT NOT NULL DEFAULT '',
	payment_reference TEXT NOT NULL DEFAULT '',
	blockchain_tx_hash TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transactions_batch
	ON transactions (direction, status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_payment_reference
	ON transactions (payment_reference) WHERE payment_reference <> '';
`

const transactionColumns = `id, direction, status, from_amount, from_currency,
	to_amount, to_currency, wallet_address, payment_provider,
	payment_reference, blockchain_tx_hash, error_message, metadata,
	created_at, updated_at`

// PostgresTransactionStore implements TransactionStore on PostgreSQL.
type PostgresTransactionStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresTransactionStore creates the store and ensures its schema
// exists. metrics may be nil.
func NewPostgresTransactionStore(db *sql.DB, m *metrics.Metrics) (*PostgresTransactionStore, error) {
	if _, err := db.Exec(transactionsDDL); err != nil {
		return nil, fmt.Errorf("create transactions schema: %w", err)
	}
	return &PostgresTransactionStore{db: db, metrics: m}, nil
}

func (s *PostgresTransactionStore) observe(query string, start time.Time) {
	if s.metrics != nil {
		s.metrics.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

func (s *PostgresTransactionStore) Create(ctx context.Context, tx *transaction.Transaction) error {
	defer s.observe("tx_create", time.Now())

	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, direction, status, from_amount, from_currency,
			to_amount, to_currency, wallet_address, payment_provider,
			payment_reference, blockchain_tx_hash, error_message, metadata,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		tx.ID, tx.Direction, tx.Status, tx.FromAmount, tx.FromCurrency,
		tx.ToAmount, tx.ToCurrency, tx.WalletAddress, tx.PaymentProvider,
		tx.PaymentReference, tx.BlockchainTxHash, tx.ErrorMessage,
		[]byte(tx.Metadata.ToJSON()), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresTransactionStore) FindByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	defer s.observe("tx_find_by_id", time.Now())

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *PostgresTransactionStore) FindByPaymentReference(ctx context.Context, ref string) (*transaction.Transaction, error) {
	defer s.observe("tx_find_by_payment_reference", time.Now())

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_reference = $1`, ref)
	return scanTransaction(row)
}

func (s *PostgresTransactionStore) FindByStatus(ctx context.Context, direction transaction.Direction, status transaction.Status, limit int) ([]*transaction.Transaction, error) {
	defer s.observe("tx_find_by_status", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE direction = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		direction, status, limit)
	if err != nil {
		return nil, fmt.Errorf("select by status: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresTransactionStore) FindPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	defer s.observe("tx_find_pending_older_than", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE direction = $1 AND status = $2 AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED`,
		transaction.DirectionOnramp, transaction.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending older than: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresTransactionStore) FindPendingWithoutWebhook(ctx context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	defer s.observe("tx_find_pending_without_webhook", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t
		WHERE t.direction = $1 AND t.status = $2 AND t.created_at < $3
		  AND NOT EXISTS (
			SELECT 1 FROM webhook_events w
			WHERE w.transaction_id = t.id::text AND w.processed
		  )
		ORDER BY t.created_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED`,
		transaction.DirectionOnramp, transaction.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending without webhook: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresTransactionStore) UpdateStatus(ctx context.Context, id string, expected, next transaction.Status) (bool, error) {
	if err := guardTransition(expected, next); err != nil {
		return false, err
	}
	defer s.observe("tx_update_status", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, expected, next)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return affected(res)
}

func (s *PostgresTransactionStore) UpdateStatusWithMetadata(ctx context.Context, id string, expected, next transaction.Status, patch *transaction.Metadata) (bool, error) {
	if err := guardTransition(expected, next); err != nil {
		return false, err
	}
	defer s.observe("tx_update_status_with_metadata", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, expected, next, []byte(patch.ToJSON()))
	if err != nil {
		return false, fmt.Errorf("update status with metadata: %w", err)
	}
	return affected(res)
}

func (s *PostgresTransactionStore) MergeMetadata(ctx context.Context, id string, patch *transaction.Metadata) error {
	defer s.observe("tx_merge_metadata", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = now()
		WHERE id = $1`,
		id, []byte(patch.ToJSON()))
	if err != nil {
		return fmt.Errorf("merge metadata: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresTransactionStore) UpdateStatusWithError(ctx context.Context, id string, expected, next transaction.Status, errorMsg string, patch *transaction.Metadata) (bool, error) {
	if err := guardTransition(expected, next); err != nil {
		return false, err
	}
	defer s.observe("tx_update_status_with_error", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3,
		    error_message = $4,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $5::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, expected, next, errorMsg, []byte(patch.ToJSON()))
	if err != nil {
		return false, fmt.Errorf("update status with error: %w", err)
	}
	return affected(res)
}

func (s *PostgresTransactionStore) SetBlockchainTxHash(ctx context.Context, id, hash string) (bool, error) {
	defer s.observe("tx_set_blockchain_tx_hash", time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET blockchain_tx_hash = $2, updated_at = now()
		WHERE id = $1 AND blockchain_tx_hash = ''`,
		id, hash)
	if err != nil {
		return false, fmt.Errorf("set blockchain tx hash: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var rawMeta []byte

	err := row.Scan(
		&tx.ID, &tx.Direction, &tx.Status, &tx.FromAmount, &tx.FromCurrency,
		&tx.ToAmount, &tx.ToCurrency, &tx.WalletAddress, &tx.PaymentProvider,
		&tx.PaymentReference, &tx.BlockchainTxHash, &tx.ErrorMessage,
		&rawMeta, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	meta, err := transaction.MetadataFromJSON(json.RawMessage(rawMeta))
	if err != nil {
		return nil, err
	}
	tx.Metadata = meta
	return &tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*transaction.Transaction, error) {
	var out []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}
