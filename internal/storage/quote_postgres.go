package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nairabridge/server/internal/metrics"
)

const quotesDDL = `
CREATE TABLE IF NOT EXISTS quotes (
	id UUID PRIMARY KEY,
	direction TEXT NOT NULL,
	rate NUMERIC(20,7) NOT NULL,
	amount_ngn NUMERIC(20,7) NOT NULL,
	fee_ngn NUMERIC(20,7) NOT NULL,
	amount_cngn NUMERIC(20,7) NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	consumed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresQuoteStore implements QuoteStore on PostgreSQL. Consume-once
// is enforced by a conditional update on consumed_at.
type PostgresQuoteStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresQuoteStore creates the store and ensures its schema exists.
func NewPostgresQuoteStore(db *sql.DB, m *metrics.Metrics) (*PostgresQuoteStore, error) {
	if _, err := db.Exec(quotesDDL); err != nil {
		return nil, fmt.Errorf("create quotes schema: %w", err)
	}
	return &PostgresQuoteStore{db: db, metrics: m}, nil
}

func (s *PostgresQuoteStore) observe(query string, start time.Time) {
	if s.metrics != nil {
		s.metrics.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

func (s *PostgresQuoteStore) Create(ctx context.Context, q *Quote) error {
	defer s.observe("quote_create", time.Now())

	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (
			id, direction, rate, amount_ngn, fee_ngn, amount_cngn,
			expires_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.ID, q.Direction, q.Rate, q.AmountNGN, q.FeeNGN, q.AmountCngn,
		q.ExpiresAt, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func (s *PostgresQuoteStore) FindByID(ctx context.Context, id string) (*Quote, error) {
	defer s.observe("quote_find_by_id", time.Now())

	return scanQuote(s.db.QueryRowContext(ctx, `
		SELECT id, direction, rate, amount_ngn, fee_ngn, amount_cngn,
		       expires_at, consumed_at, created_at
		FROM quotes WHERE id = $1`, id))
}

func (s *PostgresQuoteStore) Consume(ctx context.Context, id string, now time.Time) (*Quote, error) {
	defer s.observe("quote_consume", time.Now())

	// Claim the quote first; losing the conditional update means a
	// concurrent confirm already consumed it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE quotes
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2`,
		id, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("consume quote: %w", err)
	}
	claimed, err := affected(res)
	if err != nil {
		return nil, err
	}
	if claimed {
		return s.FindByID(ctx, id)
	}

	// Distinguish consumed from expired from missing.
	q, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.ConsumedAt != nil {
		return nil, ErrQuoteConsumed
	}
	return nil, ErrQuoteExpired
}

func scanQuote(row rowScanner) (*Quote, error) {
	var q Quote
	var consumedAt sql.NullTime

	err := row.Scan(
		&q.ID, &q.Direction, &q.Rate, &q.AmountNGN, &q.FeeNGN,
		&q.AmountCngn, &q.ExpiresAt, &consumedAt, &q.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan quote: %w", err)
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		q.ConsumedAt = &t
	}
	return &q, nil
}
