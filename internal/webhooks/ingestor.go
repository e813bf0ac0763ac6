package webhooks

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/metrics"
	"github.com/nairabridge/server/internal/providers"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

// PaymentConfirmer is the onramp surface webhooks feed into. Satisfied
// by *onramp.Processor.
type PaymentConfirmer interface {
	HandlePaymentConfirmed(ctx context.Context, txID string, verification *providers.PaymentVerification, source string) error
	HandleRefundCompleted(ctx context.Context, txID, refundRef string) error
}

// ProviderRegistry resolves the provider a webhook claims to come from.
type ProviderRegistry interface {
	ByName(name string) (providers.Provider, bool)
}

// Ingestor authenticates, records, and dispatches provider webhooks.
// Recording happens before dispatch: the (provider, event id) insert is
// the idempotency barrier, so a redelivered webhook is acknowledged
// without reprocessing. The event is marked processed only after its
// dispatch ran; until then the transaction stays visible to the
// polling fallback.
type Ingestor struct {
	registry  ProviderRegistry
	store     storage.TransactionStore
	webhooks  storage.WebhookStore
	confirmer PaymentConfirmer
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewIngestor creates a webhook ingestor.
func NewIngestor(registry ProviderRegistry, store storage.TransactionStore, webhooks storage.WebhookStore, confirmer PaymentConfirmer, m *metrics.Metrics, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		registry:  registry,
		store:     store,
		webhooks:  webhooks,
		confirmer: confirmer,
		metrics:   m,
		log:       log.With().Str("component", "webhooks").Logger(),
	}
}

// Ingest processes one webhook delivery. The returned error carries the
// HTTP status via its error code; any nil return must be acknowledged
// with 200 so the provider stops redelivering.
func (i *Ingestor) Ingest(ctx context.Context, providerName string, header http.Header, body []byte) error {
	provider, ok := i.registry.ByName(providerName)
	if !ok {
		i.observe(providerName, "unknown_provider")
		return errors.New(errors.KindDomain, errors.ErrCodeUnknownProvider,
			"no provider named "+providerName)
	}

	if err := provider.VerifyWebhookSignature(header, body); err != nil {
		i.observe(providerName, "invalid_signature")
		i.log.Warn().Str("provider", providerName).Msg("webhook.signature_rejected")
		return errors.Wrap(errors.KindValidation, errors.ErrCodeInvalidSignature,
			"webhook signature verification failed", err)
	}

	event, err := provider.ParseWebhook(body)
	if err != nil {
		i.observe(providerName, "malformed")
		return errors.Wrap(errors.KindValidation, errors.ErrCodeMalformedEvent,
			"parse webhook", err)
	}

	tx, err := i.store.FindByPaymentReference(ctx, event.Reference)
	if err != nil {
		if err == storage.ErrNotFound {
			// Not ours (or not yet created). Acknowledge so the provider
			// stops redelivering; the polling fallback covers stragglers.
			i.observe(providerName, "unmatched")
			i.log.Warn().
				Str("provider", providerName).
				Str("reference", event.Reference).
				Msg("webhook.no_matching_transaction")
			return nil
		}
		return err
	}

	eventID := uuid.NewString()
	inserted, err := i.webhooks.Insert(ctx, &storage.WebhookEvent{
		ID:              eventID,
		Provider:        providerName,
		ProviderEventID: event.EventID,
		TransactionID:   tx.ID,
		EventType:       event.EventType,
		Payload:         event.Raw,
	})
	if err != nil {
		return err
	}
	if !inserted {
		if i.metrics != nil {
			i.metrics.WebhookDuplicatesTotal.WithLabelValues(providerName).Inc()
		}
		i.log.Debug().
			Str("provider", providerName).
			Str("event_id", event.EventID).
			Msg("webhook.duplicate")
		return nil
	}

	i.observe(providerName, "accepted")
	if i.dispatch(ctx, provider, tx, event) {
		if err := i.webhooks.MarkProcessed(ctx, eventID); err != nil {
			i.log.Error().Err(err).
				Str("event_id", event.EventID).
				Msg("webhook.mark_processed_failed")
		}
	}
	return nil
}

// dispatch routes an accepted event to the right engine hook and
// reports whether the event was acted on. Failures are logged, never
// returned: the delivery is acknowledged either way, and an unhandled
// event leaves its row unprocessed so the polling fallback keeps the
// transaction in view and retries the underlying work.
func (i *Ingestor) dispatch(ctx context.Context, provider providers.Provider, tx *transaction.Transaction, event *providers.WebhookEvent) bool {
	switch {
	case isRefundEvent(event.EventType):
		if err := i.confirmer.HandleRefundCompleted(ctx, tx.ID, event.EventID); err != nil {
			i.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("webhook.refund_dispatch_failed")
			return false
		}
		return true

	case event.Status == providers.PaymentSuccessful:
		// Re-verify against the provider API rather than trusting the
		// webhook body for the amount.
		verification, err := provider.VerifyPayment(ctx, event.Reference)
		if err != nil {
			i.log.Error().Err(err).
				Str("transaction_id", tx.ID).
				Str("reference", event.Reference).
				Msg("webhook.verification_failed")
			return false
		}
		if err := i.confirmer.HandlePaymentConfirmed(ctx, tx.ID, verification, "webhook"); err != nil {
			i.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("webhook.confirm_dispatch_failed")
			return false
		}
		return true

	case event.Status == providers.PaymentFailed:
		ok, err := i.store.UpdateStatusWithError(ctx, tx.ID,
			transaction.StatusPending, transaction.StatusFailed,
			transaction.ReasonPaymentFailed, &transaction.Metadata{
				FailureReason: transaction.ReasonPaymentFailed,
			})
		if err != nil {
			i.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("webhook.fail_update_failed")
			return false
		}
		if ok {
			i.log.Info().Str("transaction_id", tx.ID).Msg("webhook.payment_failed")
		}
		return true

	default:
		// An unrecognized event type says nothing about the payment, so
		// the transaction must stay pollable.
		i.log.Debug().
			Str("transaction_id", tx.ID).
			Str("event_type", event.EventType).
			Msg("webhook.ignored_event")
		return false
	}
}

func (i *Ingestor) observe(provider, outcome string) {
	if i.metrics != nil {
		i.metrics.WebhooksReceivedTotal.WithLabelValues(provider, outcome).Inc()
	}
}

func isRefundEvent(eventType string) bool {
	return strings.Contains(eventType, "refund")
}
