package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nairabridge/server/internal/metrics"
)

const webhookEventsDDL = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id UUID PRIMARY KEY,
	provider TEXT NOT NULL,
	provider_event_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ,
	UNIQUE (provider, provider_event_id)
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_transaction
	ON webhook_events (transaction_id);
`

// PostgresWebhookStore implements WebhookStore on PostgreSQL. The
// unique constraint on (provider, provider_event_id) is the idempotency
// mechanism: the insert either claims the event or reports a duplicate.
type PostgresWebhookStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresWebhookStore creates the store and ensures its schema exists.
func NewPostgresWebhookStore(db *sql.DB, m *metrics.Metrics) (*PostgresWebhookStore, error) {
	if _, err := db.Exec(webhookEventsDDL); err != nil {
		return nil, fmt.Errorf("create webhook_events schema: %w", err)
	}
	return &PostgresWebhookStore{db: db, metrics: m}, nil
}

func (s *PostgresWebhookStore) observe(query string, start time.Time) {
	if s.metrics != nil {
		s.metrics.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

func (s *PostgresWebhookStore) Insert(ctx context.Context, ev *WebhookEvent) (bool, error) {
	defer s.observe("webhook_insert", time.Now())

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (
			id, provider, provider_event_id, transaction_id,
			event_type, payload, processed, received_at
		) VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.ID, ev.Provider, ev.ProviderEventID, ev.TransactionID,
		ev.EventType, ev.Payload, ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return affected(res)
}

func (s *PostgresWebhookStore) MarkProcessed(ctx context.Context, id string) error {
	defer s.observe("webhook_mark_processed", time.Now())

	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE, processed_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}
