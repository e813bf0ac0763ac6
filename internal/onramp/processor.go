package onramp

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/metrics"
	"github.com/nairabridge/server/internal/notification"
	"github.com/nairabridge/server/internal/providers"
	"github.com/nairabridge/server/internal/retry"
	"github.com/nairabridge/server/internal/stellar"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

// PaymentGateway is the Stellar surface the onramp engine needs.
// Satisfied by *stellar.PaymentService.
type PaymentGateway interface {
	HasTrustline(ctx context.Context, accountID string) (bool, error)
	HotWalletBalance(ctx context.Context) (decimal.Decimal, error)
	Send(ctx context.Context, destination string, amount decimal.Decimal, memo string) (string, error)
	Confirmed(ctx context.Context, hash string) (*stellar.TransactionInfo, error)
}

// ProviderRegistry is the provider surface the onramp engine needs.
// Satisfied by *providers.Registry.
type ProviderRegistry interface {
	Select(attempt int) providers.Provider
	ByName(name string) (providers.Provider, bool)
	Primary() providers.Provider
}

// Config holds the onramp engine's timing and retry parameters.
type Config struct {
	PollInterval       time.Duration
	BatchSize          int
	PendingTimeout     time.Duration
	WebhookGracePeriod time.Duration
	StellarRetry       retry.Policy
	RefundRetry        retry.Policy
	// ConfirmationPoll is the cadence of the confirmation monitor,
	// shorter than PollInterval because submitted transfers settle
	// within a few ledgers.
	ConfirmationPoll    time.Duration
	ConfirmationTimeout time.Duration
}

// Processor drives NGN-to-cNGN transactions: it sweeps payment
// timeouts, polls providers as a webhook fallback, executes the cNGN
// transfer once a payment is confirmed, and monitors confirmations.
// Multiple instances may run concurrently; batch selection skips locked
// rows and every transition is a conditional update, so a lost race is
// a silent no-op.
type Processor struct {
	store    storage.TransactionStore
	payments PaymentGateway
	registry ProviderRegistry
	notifier notification.Notifier
	metrics  *metrics.Metrics
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	instance string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an onramp processor.
func New(store storage.TransactionStore, payments PaymentGateway, registry ProviderRegistry, notifier notification.Notifier, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Processor {
	if cfg.ConfirmationPoll <= 0 {
		cfg.ConfirmationPoll = cfg.PollInterval
	}
	return &Processor{
		store:    store,
		payments: payments,
		registry: registry,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		log:      log.With().Str("component", "onramp").Logger(),
		now:      time.Now,
		instance: processInstance(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic cycle.
func (p *Processor) Start() {
	p.wg.Add(1)
	go p.run()
	p.log.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Int("batch_size", p.cfg.BatchSize).
		Msg("onramp.started")
}

// Close stops the cycle loop, letting the in-flight item finish.
func (p *Processor) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.log.Info().Msg("onramp.stopped")
	return nil
}

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// Confirmations run on their own faster cadence between full
	// cycles; every advance is conditional, so overlap is harmless.
	confirmTicker := time.NewTicker(p.cfg.ConfirmationPoll)
	defer confirmTicker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.Cycle(context.Background()); err != nil {
				p.log.Error().Err(err).Msg("onramp.cycle_failed")
			}
		case <-confirmTicker.C:
			if err := p.monitorConfirmations(context.Background()); err != nil {
				p.log.Error().Err(err).Msg("onramp.confirmation_monitor_failed")
			}
		}
	}
}

// Cycle runs one pass of the three onramp stages. Stage errors are
// collected but never stop the remaining stages.
func (p *Processor) Cycle(ctx context.Context) error {
	start := p.now()
	var firstErr error

	for _, stage := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"timeout_sweep", p.sweepTimeouts},
		{"polling_fallback", p.pollPendingPayments},
		{"confirmation_monitor", p.monitorConfirmations},
	} {
		if err := stage.fn(ctx); err != nil {
			p.log.Error().Err(err).Str("stage", stage.name).Msg("onramp.stage_failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	p.metrics.ObserveCycle("onramp", p.now().Sub(start), firstErr)
	return firstErr
}

// sweepTimeouts fails pending transactions older than the payment
// window. No refund: no money was collected.
func (p *Processor) sweepTimeouts(ctx context.Context) error {
	cutoff := p.now().Add(-p.cfg.PendingTimeout)
	batch, err := p.store.FindPendingOlderThan(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		patch := &transaction.Metadata{FailureReason: transaction.ReasonPaymentTimeout}
		ok, err := p.store.UpdateStatusWithError(ctx, tx.ID,
			transaction.StatusPending, transaction.StatusFailed,
			transaction.ReasonPaymentTimeout, patch)
		if err != nil {
			p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.timeout_sweep_failed")
			continue
		}
		if !ok {
			continue // a webhook confirmed it between select and update
		}

		if p.metrics != nil {
			p.metrics.OnrampPaymentsFailedTotal.WithLabelValues(transaction.ReasonPaymentTimeout).Inc()
		}
		p.log.Info().
			Str("transaction_id", tx.ID).
			Dur("pending_for", tx.PendingFor(p.now())).
			Msg("onramp.payment_timed_out")

		p.notifyStatus(ctx, tx, transaction.StatusFailed, transaction.ReasonPaymentTimeout)
	}
	return nil
}

// pollPendingPayments asks the provider directly about pending
// transactions old enough that a webhook should have arrived.
func (p *Processor) pollPendingPayments(ctx context.Context) error {
	cutoff := p.now().Add(-p.cfg.WebhookGracePeriod)
	batch, err := p.store.FindPendingWithoutWebhook(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		if tx.PaymentReference == "" {
			continue
		}
		provider := p.providerFor(tx)

		verification, err := provider.VerifyPayment(ctx, tx.PaymentReference)
		if err != nil {
			p.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("onramp.poll_failed")
			continue
		}

		switch verification.Status {
		case providers.PaymentSuccessful:
			if err := p.HandlePaymentConfirmed(ctx, tx.ID, verification, "poll"); err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.confirmed_path_failed")
			}
		case providers.PaymentFailed:
			patch := &transaction.Metadata{FailureReason: transaction.ReasonPaymentFailed}
			ok, err := p.store.UpdateStatusWithError(ctx, tx.ID,
				transaction.StatusPending, transaction.StatusFailed,
				transaction.ReasonPaymentFailed, patch)
			if err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.fail_update_failed")
				continue
			}
			if ok {
				if p.metrics != nil {
					p.metrics.OnrampPaymentsFailedTotal.WithLabelValues(transaction.ReasonPaymentFailed).Inc()
				}
				p.notifyStatus(ctx, tx, transaction.StatusFailed, transaction.ReasonPaymentFailed)
			}
		}
	}
	return nil
}

// HandlePaymentConfirmed is the single entry point for a confirmed fiat
// payment, shared by the webhook ingest and the polling fallback.
// source is "webhook" or "poll" for metrics.
func (p *Processor) HandlePaymentConfirmed(ctx context.Context, txID string, verification *providers.PaymentVerification, source string) error {
	tx, err := p.store.FindByID(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Direction != transaction.DirectionOnramp {
		return errors.New(errors.KindInvariant, errors.ErrCodeInvalidTransition,
			"payment confirmation for non-onramp transaction")
	}

	// An amount mismatch is not a state transition: the row stays
	// pending for manual intervention or the timeout sweep.
	if !verification.Amount.Equal(tx.FromAmount) {
		p.log.Warn().
			Str("transaction_id", tx.ID).
			Str("expected", tx.FromAmount.String()).
			Str("received", verification.Amount.String()).
			Msg("onramp.amount_mismatch")
		return nil
	}

	patch := &transaction.Metadata{
		ProviderName:     p.providerFor(tx).Name(),
		ProviderResponse: verification.Raw,
		LockedAt:         p.now().UTC().Format(time.RFC3339),
		LockedBy:         p.instance,
	}
	claimed, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID,
		transaction.StatusPending, transaction.StatusProcessing, patch)
	if err != nil {
		return err
	}
	if !claimed {
		// Webhook and poll raced; the other path is running the transfer.
		return nil
	}

	if p.metrics != nil {
		p.metrics.OnrampPaymentsConfirmedTotal.WithLabelValues(p.providerFor(tx).Name(), source).Inc()
	}
	p.log.Info().
		Str("transaction_id", tx.ID).
		Str("source", source).
		Msg("onramp.payment_confirmed")

	return p.executeTransfer(ctx, tx)
}

// executeTransfer runs the pre-transfer checks and submits the cNGN
// payment. The transaction is already in processing; the caller owns
// that claim.
func (p *Processor) executeTransfer(ctx context.Context, tx *transaction.Transaction) error {
	hasTrustline, err := p.payments.HasTrustline(ctx, tx.WalletAddress)
	if err != nil {
		// Infrastructure trouble: stay in processing, the confirmation
		// monitor re-enters here next cycle.
		return err
	}
	if !hasTrustline {
		return p.failWithRefund(ctx, tx, transaction.ReasonTrustlineNotFound)
	}

	balance, err := p.payments.HotWalletBalance(ctx)
	if err != nil {
		return err
	}
	if balance.LessThan(tx.ToAmount) {
		p.log.Error().
			Str("transaction_id", tx.ID).
			Str("balance", balance.String()).
			Str("required", tx.ToAmount.String()).
			Msg("onramp.hot_wallet_underfunded")
		return p.failWithRefund(ctx, tx, transaction.ReasonInsufficientCngnBalance)
	}

	var hash string
	err = p.cfg.StellarRetry.Do(ctx, func(attempt int) error {
		h, sendErr := p.payments.Send(ctx, tx.WalletAddress, tx.ToAmount, stellar.TruncateMemo(tx.ID))
		if sendErr == nil {
			hash = h
		}
		return sendErr
	}, errors.IsTransient)
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Permanent result or retries exhausted: the money never left,
		// return the fiat.
		return p.failWithRefund(ctx, tx, transaction.ReasonStellarPermanentError)
	}

	// Store the hash before awaiting confirmation so a crash here
	// leaves a recoverable trail.
	if _, err := p.store.SetBlockchainTxHash(ctx, tx.ID, hash); err != nil {
		return err
	}
	if err := p.store.MergeMetadata(ctx, tx.ID, &transaction.Metadata{StellarTxHash: hash}); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.OnrampTransfersSubmittedTotal.Inc()
	}
	p.log.Info().
		Str("transaction_id", tx.ID).
		Str("hash", hash).
		Msg("onramp.cngn_transfer_submitted")
	return nil
}

// monitorConfirmations advances processing transactions: resumes
// submissions that crashed before a hash was recorded, and settles
// submitted ones against the ledger.
func (p *Processor) monitorConfirmations(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOnramp, transaction.StatusProcessing, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		hash := tx.BlockchainTxHash
		if hash == "" {
			if err := p.executeTransfer(ctx, tx); err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.transfer_resume_failed")
			}
			continue
		}

		info, err := p.payments.Confirmed(ctx, hash)
		if err != nil {
			p.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("onramp.confirmation_check_failed")
			continue
		}

		switch {
		case info == nil:
			if p.now().Sub(tx.UpdatedAt) > p.cfg.ConfirmationTimeout {
				// The hash is on record but never landed. No automatic
				// refund: the transfer could still settle, so this goes
				// to manual review.
				patch := &transaction.Metadata{FailureReason: transaction.ReasonTransferTimeout}
				ok, err := p.store.UpdateStatusWithError(ctx, tx.ID,
					transaction.StatusProcessing, transaction.StatusFailed,
					transaction.ReasonTransferTimeout, patch)
				if err != nil {
					p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.timeout_update_failed")
					continue
				}
				if ok {
					if p.metrics != nil {
						p.metrics.OnrampPaymentsFailedTotal.WithLabelValues(transaction.ReasonTransferTimeout).Inc()
					}
					p.log.Error().
						Str("transaction_id", tx.ID).
						Str("hash", hash).
						Msg("onramp.confirmation_timed_out")
					p.notifyStatus(ctx, tx, transaction.StatusFailed, transaction.ReasonTransferTimeout)
				}
			}

		case info.Successful:
			patch := &transaction.Metadata{
				StellarLedger:      info.Ledger,
				StellarConfirmedAt: p.now().UTC().Format(time.RFC3339),
			}
			ok, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID,
				transaction.StatusProcessing, transaction.StatusCompleted, patch)
			if err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.complete_update_failed")
				continue
			}
			if ok {
				if p.metrics != nil {
					p.metrics.OnrampTransfersConfirmedTotal.Inc()
				}
				p.log.Info().
					Str("transaction_id", tx.ID).
					Str("hash", hash).
					Int32("ledger", info.Ledger).
					Msg("onramp.completed")
				p.notifyStatus(ctx, tx, transaction.StatusCompleted, "")
			}

		default:
			// Included in a ledger but failed: the cNGN never moved.
			if err := p.failWithRefund(ctx, tx, transaction.ReasonStellarPermanentError); err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.refund_path_failed")
			}
		}
	}
	return nil
}

// failWithRefund closes the transaction as failed with the given reason
// and asks the provider to return the collected fiat. The provider
// completes the refund asynchronously on its own rails; the core only
// records the intent. A refund that cannot even be initiated is flagged
// for manual review in the log.
func (p *Processor) failWithRefund(ctx context.Context, tx *transaction.Transaction, reason string) error {
	patch := &transaction.Metadata{FailureReason: reason}
	ok, err := p.store.UpdateStatusWithError(ctx, tx.ID,
		transaction.StatusProcessing, transaction.StatusFailed, reason, patch)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if p.metrics != nil {
		p.metrics.OnrampPaymentsFailedTotal.WithLabelValues(reason).Inc()
	}
	p.log.Info().
		Str("transaction_id", tx.ID).
		Str("reason", reason).
		Msg("onramp.failed")

	provider := p.providerFor(tx)
	var refundRef string
	refundErr := p.cfg.RefundRetry.Do(ctx, func(attempt int) error {
		resp, err := provider.InitiateRefund(ctx, providers.RefundRequest{
			PaymentReference: tx.PaymentReference,
			Amount:           tx.FromAmount,
		})
		if err == nil {
			refundRef = resp.RefundReference
		}
		return err
	}, recoverableProviderError)

	if refundErr != nil {
		p.log.Error().
			Err(refundErr).
			Str("transaction_id", tx.ID).
			Msg("onramp.refund_initiation_failed")
	} else {
		// Terminal rows still accept metadata audit annotations.
		annotation := &transaction.Metadata{
			RefundReference: refundRef,
			RefundAmount:    tx.FromAmount.String(),
		}
		if err := p.store.MergeMetadata(ctx, tx.ID, annotation); err != nil {
			p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("onramp.refund_annotation_failed")
		}
		if p.metrics != nil {
			p.metrics.OnrampRefundsInitiatedTotal.WithLabelValues(provider.Name()).Inc()
		}
		p.log.Info().
			Str("transaction_id", tx.ID).
			Str("refund_reference", refundRef).
			Msg("onramp.refund_initiated")
	}

	p.notifyStatus(ctx, tx, transaction.StatusFailed, reason)
	return nil
}

// HandleRefundCompleted is called by the webhook ingest when a provider
// reports a fiat refund finished while the transaction is still open.
// Terminal rows only receive the confirmation as a metadata annotation.
func (p *Processor) HandleRefundCompleted(ctx context.Context, txID, refundRef string) error {
	annotation := &transaction.Metadata{
		RefundReference:   refundRef,
		RefundConfirmedAt: p.now().UTC().Format(time.RFC3339),
	}
	for _, from := range []transaction.Status{transaction.StatusProcessing, transaction.StatusPending} {
		ok, err := p.store.UpdateStatusWithMetadata(ctx, txID, from, transaction.StatusRefunded, annotation)
		if err != nil {
			return err
		}
		if ok {
			p.log.Info().Str("transaction_id", txID).Msg("onramp.refunded")
			return nil
		}
	}
	return p.store.MergeMetadata(ctx, txID, annotation)
}

func (p *Processor) providerFor(tx *transaction.Transaction) providers.Provider {
	if tx.PaymentProvider != "" {
		if provider, ok := p.registry.ByName(tx.PaymentProvider); ok {
			return provider
		}
	}
	return p.registry.Primary()
}

func (p *Processor) notifyStatus(ctx context.Context, tx *transaction.Transaction, status transaction.Status, reason string) {
	snapshot := *tx
	snapshot.Status = status
	snapshot.ErrorMessage = reason
	snapshot.Metadata.FailureReason = reason
	if err := p.notifier.Notify(ctx, &snapshot); err != nil {
		p.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("onramp.notify_failed")
	}
}

// recoverableProviderError reports whether a provider failure is worth
// another refund attempt.
func recoverableProviderError(err error) bool {
	var pErr *providers.Error
	if stderrors.As(err, &pErr) {
		return pErr.Recoverable()
	}
	return true
}

// processInstance identifies this engine instance in lock metadata so a
// stuck row can be traced to the process that claimed it.
func processInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "onramp"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
