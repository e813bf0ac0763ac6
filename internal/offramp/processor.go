package offramp

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
	"github.com/nairabridge/server/internal/logger"
	"github.com/nairabridge/server/internal/metrics"
	"github.com/nairabridge/server/internal/notification"
	"github.com/nairabridge/server/internal/providers"
	"github.com/nairabridge/server/internal/retry"
	"github.com/nairabridge/server/internal/stellar"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

// PaymentGateway is the Stellar surface the offramp engine needs.
// Satisfied by *stellar.PaymentService.
type PaymentGateway interface {
	IncomingCngnAmount(ctx context.Context, hash, destination string) (decimal.Decimal, bool, error)
	Send(ctx context.Context, destination string, amount decimal.Decimal, memo string) (string, error)
}

// ProviderRegistry is the provider surface the offramp engine needs.
// Satisfied by *providers.Registry.
type ProviderRegistry interface {
	Select(attempt int) providers.Provider
	ByName(name string) (providers.Provider, bool)
	Primary() providers.Provider
}

// Config holds the offramp engine's timing and retry parameters.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	PaymentWindow time.Duration
	// SystemWallet is the distribution account users send cNGN to.
	SystemWallet string
	// RetryDelays is the transfer-monitoring backoff vector.
	RetryDelays []time.Duration
	// RetryTimeout is the wall-clock limit a payout may stay pending.
	RetryTimeout time.Duration
	RefundRetry  retry.Policy
	// RefundStuckAfter bounds how long a refunding row may sit without
	// a recorded hash before it goes to manual review.
	RefundStuckAfter time.Duration
}

const maxWithdrawalAttempts = 3
const maxTransferPollAttempts = 3

// Processor drives cNGN-to-NGN transactions from receipt to bank
// deposit, refunding cNGN to the user's wallet on any non-recoverable
// failure. Same concurrency discipline as the onramp engine: skip-locked
// batches and conditional transitions.
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

// New creates an offramp processor.
func New(store storage.TransactionStore, payments PaymentGateway, registry ProviderRegistry, notifier notification.Notifier, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Processor {
	if cfg.RefundStuckAfter <= 0 {
		cfg.RefundStuckAfter = 10 * time.Minute
	}
	return &Processor{
		store:    store,
		payments: payments,
		registry: registry,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		log:      log.With().Str("component", "offramp").Logger(),
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
		Msg("offramp.started")
}

// Close stops the cycle loop, letting the in-flight item finish.
func (p *Processor) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.log.Info().Msg("offramp.stopped")
	return nil
}

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.Cycle(context.Background()); err != nil {
				p.log.Error().Err(err).Msg("offramp.cycle_failed")
			}
		}
	}
}

// Cycle runs one pass of the offramp stages. Stage errors never stop
// the remaining stages.
func (p *Processor) Cycle(ctx context.Context) error {
	start := p.now()
	var firstErr error

	for _, stage := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"expiry_sweep", p.sweepExpired},
		{"receipt_verification", p.verifyReceipts},
		{"withdrawal_initiation", p.initiateWithdrawals},
		{"transfer_monitoring", p.monitorTransfers},
		{"refund_processing", p.processRefunds},
	} {
		if err := stage.fn(ctx); err != nil {
			p.log.Error().Err(err).Str("stage", stage.name).Msg("offramp.stage_failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	p.metrics.ObserveCycle("offramp", p.now().Sub(start), firstErr)
	return firstErr
}

// HandleCngnReceived records the user's inbound cNGN payment hash and
// moves the transaction into the verification pipeline. Called by the
// API layer when the wallet reports the deposit. The hash is verified
// against the ledger before any money moves.
func (p *Processor) HandleCngnReceived(ctx context.Context, txID, hash string) error {
	if hash == "" {
		return errors.New(errors.KindValidation, errors.ErrCodeMissingField, "incoming hash required")
	}
	patch := &transaction.Metadata{IncomingHash: hash}
	ok, err := p.store.UpdateStatusWithMetadata(ctx, txID,
		transaction.StatusPendingPayment, transaction.StatusCngnReceived, patch)
	if err != nil {
		return err
	}
	if !ok {
		tx, err := p.store.FindByID(ctx, txID)
		if err != nil {
			return err
		}
		return errors.New(errors.KindDomain, errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot record deposit in status %s", tx.Status))
	}
	p.log.Info().Str("transaction_id", txID).Str("hash", hash).Msg("offramp.cngn_received")
	return nil
}

// sweepExpired expires transactions whose payment window closed before
// any cNGN arrived.
func (p *Processor) sweepExpired(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusPendingPayment, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	cutoff := p.now().Add(-p.cfg.PaymentWindow)
	for _, tx := range batch {
		if !tx.CreatedAt.Before(cutoff) {
			continue
		}
		ok, err := p.store.UpdateStatus(ctx, tx.ID,
			transaction.StatusPendingPayment, transaction.StatusExpired)
		if err != nil {
			p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.expiry_failed")
			continue
		}
		if !ok {
			continue // deposit landed between select and update
		}
		if p.metrics != nil {
			p.metrics.OfframpExpiredTotal.Inc()
		}
		p.log.Info().Str("transaction_id", tx.ID).Msg("offramp.expired")
		p.notifyStatus(ctx, tx, transaction.StatusExpired, "")
	}
	return nil
}

// verifyReceipts checks each recorded deposit hash against the ledger:
// there must be a cNGN payment into the distribution account exactly
// equal to from_amount. Any mismatch starts a refund. Rows already in
// verifying_amount are lookup retries or crash leftovers; they are
// settled where they stand before new claims are made.
func (p *Processor) verifyReceipts(ctx context.Context) error {
	parked, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusVerifyingAmount, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, tx := range parked {
		p.verifyReceipt(ctx, tx)
	}

	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusCngnReceived, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, tx := range batch {
		claimed, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID,
			transaction.StatusCngnReceived, transaction.StatusVerifyingAmount, p.lockStamp())
		if err != nil || !claimed {
			continue
		}
		p.verifyReceipt(ctx, tx)
	}
	return nil
}

// verifyReceipt settles one claimed row against the ledger. The row is
// in verifying_amount; a failed lookup leaves it there and the next
// cycle retries.
func (p *Processor) verifyReceipt(ctx context.Context, tx *transaction.Transaction) {
	hash := tx.IncomingStellarHash()
	if hash == "" {
		p.log.Error().Str("transaction_id", tx.ID).Msg("offramp.missing_incoming_hash")
		p.startRefund(ctx, tx, transaction.StatusVerifyingAmount, transaction.ReasonAmountMismatch)
		return
	}

	amount, found, err := p.payments.IncomingCngnAmount(ctx, hash, p.cfg.SystemWallet)
	if err != nil {
		p.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("offramp.receipt_lookup_failed")
		return
	}

	if !found || !amount.Equal(tx.FromAmount) {
		p.log.Warn().
			Str("transaction_id", tx.ID).
			Str("expected", tx.FromAmount.String()).
			Str("received", amount.String()).
			Msg("offramp.receipt_mismatch")
		p.startRefund(ctx, tx, transaction.StatusVerifyingAmount, transaction.ReasonAmountMismatch)
		return
	}

	ok, err := p.store.UpdateStatus(ctx, tx.ID,
		transaction.StatusVerifyingAmount, transaction.StatusProcessingWithdrawal)
	if err != nil {
		p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.verify_advance_failed")
		return
	}
	if ok {
		p.observeStage("receipt_verification", "verified")
		p.log.Info().
			Str("transaction_id", tx.ID).
			Str("amount", amount.String()).
			Msg("offramp.receipt_verified")
	}
}

// initiateWithdrawals submits bank payouts. Provider choice is
// deterministic on the attempt number: 1-2 primary, 3 secondary.
func (p *Processor) initiateWithdrawals(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusProcessingWithdrawal, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		if !tx.Metadata.RetryEligible(p.now()) {
			continue
		}
		if !tx.Metadata.HasBankDetails() {
			p.log.Error().Str("transaction_id", tx.ID).Msg("offramp.missing_bank_details")
			p.startRefund(ctx, tx, transaction.StatusProcessingWithdrawal, transaction.ReasonTransferFailed)
			continue
		}

		attempt := tx.Metadata.RetryCount + 1
		if attempt > maxWithdrawalAttempts {
			p.startRefund(ctx, tx, transaction.StatusProcessingWithdrawal, transaction.ReasonTransferFailed)
			continue
		}
		provider := p.registry.Select(attempt)

		resp, err := provider.ProcessWithdrawal(ctx, providers.WithdrawalRequest{
			Reference:     "wd-" + tx.ID,
			Amount:        tx.ToAmount,
			AccountNumber: tx.Metadata.AccountNumber,
			BankCode:      tx.Metadata.BankCode,
			AccountName:   tx.Metadata.AccountName,
			Narration:     "cNGN withdrawal",
		})
		if err != nil {
			p.handleWithdrawalError(ctx, tx, provider, attempt, err)
			continue
		}

		patch := &transaction.Metadata{
			ProviderName:      provider.Name(),
			ProviderReference: resp.ProviderReference,
			ProviderResponse:  resp.Raw,
			TransferStartedAt: p.now().UTC().Format(time.RFC3339),
		}
		ok, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID,
			transaction.StatusProcessingWithdrawal, transaction.StatusTransferPending, patch)
		if err != nil {
			p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.withdrawal_advance_failed")
			continue
		}
		if ok {
			p.observeStage("withdrawal_initiation", "submitted")
			p.log.Info().
				Str("transaction_id", tx.ID).
				Str("provider", provider.Name()).
				Int("attempt", attempt).
				Str("provider_reference", resp.ProviderReference).
				Str("account", logger.RedactAccountNumber(tx.Metadata.AccountNumber)).
				Msg("offramp.withdrawal_submitted")
		}
	}
	return nil
}

func (p *Processor) handleWithdrawalError(ctx context.Context, tx *transaction.Transaction, provider providers.Provider, attempt int, err error) {
	p.log.Warn().
		Err(err).
		Str("transaction_id", tx.ID).
		Str("provider", provider.Name()).
		Int("attempt", attempt).
		Msg("offramp.withdrawal_failed")

	if !recoverableProviderError(err) || attempt >= maxWithdrawalAttempts {
		p.startRefund(ctx, tx, transaction.StatusProcessingWithdrawal, transaction.ReasonTransferFailed)
		return
	}

	patch := &transaction.Metadata{}
	patch.ScheduleRetry(attempt, p.retryDelay(attempt), p.now())
	if mergeErr := p.store.MergeMetadata(ctx, tx.ID, patch); mergeErr != nil {
		p.log.Error().Err(mergeErr).Str("transaction_id", tx.ID).Msg("offramp.retry_bookkeeping_failed")
	}
	p.observeStage("withdrawal_initiation", "retry_scheduled")
}

// monitorTransfers polls the provider for payout outcomes, honouring
// the next_retry_after gate and the wall-clock timeout.
func (p *Processor) monitorTransfers(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusTransferPending, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		if !tx.Metadata.RetryEligible(p.now()) {
			continue
		}

		provider := p.providerFor(tx)
		status, err := provider.GetTransferStatus(ctx, tx.Metadata.ProviderReference)
		if err != nil {
			p.handleTransferPollError(ctx, tx, err)
			continue
		}

		switch status {
		case providers.TransferSuccessful:
			ok, err := p.store.UpdateStatus(ctx, tx.ID,
				transaction.StatusTransferPending, transaction.StatusCompleted)
			if err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.complete_update_failed")
				continue
			}
			if ok {
				p.observeStage("transfer_monitoring", "completed")
				p.log.Info().Str("transaction_id", tx.ID).Msg("offramp.completed")
				p.notifyStatus(ctx, tx, transaction.StatusCompleted, "")
			}

		case providers.TransferFailed:
			p.startRefund(ctx, tx, transaction.StatusTransferPending, transaction.ReasonTransferFailed)

		case providers.TransferPending:
			if p.transferDeadlineExceeded(tx) {
				p.log.Warn().
					Str("transaction_id", tx.ID).
					Msg("offramp.transfer_timed_out")
				p.startRefund(ctx, tx, transaction.StatusTransferPending, transaction.ReasonTransferTimeout)
			}
		}
	}
	return nil
}

func (p *Processor) handleTransferPollError(ctx context.Context, tx *transaction.Transaction, err error) {
	attempt := tx.Metadata.TransferPollAttempts + 1
	p.log.Warn().
		Err(err).
		Str("transaction_id", tx.ID).
		Int("attempt", attempt).
		Msg("offramp.transfer_poll_failed")

	if attempt > maxTransferPollAttempts {
		p.startRefund(ctx, tx, transaction.StatusTransferPending, transaction.ReasonTransferFailed)
		return
	}

	patch := &transaction.Metadata{
		TransferPollAttempts: attempt,
		LastRetryAt:          p.now().UTC().Format(time.RFC3339),
		NextRetryAfter:       p.now().UTC().Add(p.retryDelay(attempt)).Format(time.RFC3339),
	}
	if mergeErr := p.store.MergeMetadata(ctx, tx.ID, patch); mergeErr != nil {
		p.log.Error().Err(mergeErr).Str("transaction_id", tx.ID).Msg("offramp.retry_bookkeeping_failed")
	}
	p.observeStage("transfer_monitoring", "retry_scheduled")
}

// retryDelay picks the backoff for the given attempt, repeating the
// last configured delay past the end of the vector.
func (p *Processor) retryDelay(attempt int) time.Duration {
	if len(p.cfg.RetryDelays) == 0 {
		return 0
	}
	if attempt-1 < len(p.cfg.RetryDelays) {
		return p.cfg.RetryDelays[attempt-1]
	}
	return p.cfg.RetryDelays[len(p.cfg.RetryDelays)-1]
}

func (p *Processor) transferDeadlineExceeded(tx *transaction.Transaction) bool {
	start := tx.UpdatedAt
	if tx.Metadata.TransferStartedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, tx.Metadata.TransferStartedAt); err == nil {
			start = parsed
		}
	}
	return p.now().Sub(start) > p.cfg.RetryTimeout
}

// startRefund marks the failure reason and enters the refund
// sub-protocol from any non-terminal state.
func (p *Processor) startRefund(ctx context.Context, tx *transaction.Transaction, from transaction.Status, reason string) {
	patch := &transaction.Metadata{FailureReason: reason}
	ok, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID, from, transaction.StatusRefundInitiated, patch)
	if err != nil {
		p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.refund_entry_failed")
		return
	}
	if !ok {
		return
	}
	p.observeStage("refund", "initiated")
	p.log.Info().
		Str("transaction_id", tx.ID).
		Str("reason", reason).
		Str("from", string(from)).
		Msg("offramp.refund_initiated")
}

// processRefunds submits the reversing cNGN payment. The transition to
// refunding happens before submission so a crash resumes
// deterministically: a refunding row with a hash completes, one without
// a hash goes to manual review after the stuck window.
func (p *Processor) processRefunds(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusRefundInitiated, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		claimed, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID,
			transaction.StatusRefundInitiated, transaction.StatusRefunding, p.lockStamp())
		if err != nil || !claimed {
			continue
		}
		p.submitRefund(ctx, tx)
	}

	return p.recoverStuckRefunds(ctx)
}

func (p *Processor) submitRefund(ctx context.Context, tx *transaction.Transaction) {
	memo := stellar.RefundMemo(tx.ID)

	var hash string
	err := p.cfg.RefundRetry.Do(ctx, func(attempt int) error {
		h, sendErr := p.payments.Send(ctx, tx.WalletAddress, tx.FromAmount, memo)
		if sendErr == nil {
			hash = h
		}
		return sendErr
	}, errors.IsTransient)

	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return // shutdown mid-refund; the stuck-refund recovery owns it now
		}
		patch := &transaction.Metadata{FailureReason: transaction.ReasonRefundFailed}
		if _, updateErr := p.store.UpdateStatusWithError(ctx, tx.ID,
			transaction.StatusRefunding, transaction.StatusFailed,
			transaction.ReasonRefundFailed, patch); updateErr != nil {
			p.log.Error().Err(updateErr).Str("transaction_id", tx.ID).Msg("offramp.refund_fail_update_failed")
			return
		}
		if p.metrics != nil {
			p.metrics.OfframpRefundsTotal.WithLabelValues("failed").Inc()
		}
		p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.refund_submit_failed")
		p.notifyStatus(ctx, tx, transaction.StatusFailed, transaction.ReasonRefundFailed)
		return
	}

	// Record the hash on its own first: a crash before the transition
	// below then leaves a refunding row the recovery pass can finish
	// instead of routing to manual review.
	if mergeErr := p.store.MergeMetadata(ctx, tx.ID, &transaction.Metadata{RefundTxHash: hash}); mergeErr != nil {
		p.log.Error().Err(mergeErr).Str("transaction_id", tx.ID).Msg("offramp.refund_hash_persist_failed")
	}

	patch := &transaction.Metadata{
		RefundTxHash:      hash,
		RefundAmount:      tx.FromAmount.String(),
		RefundConfirmedAt: p.now().UTC().Format(time.RFC3339),
	}
	ok, err := p.store.UpdateStatusWithMetadata(ctx, tx.ID,
		transaction.StatusRefunding, transaction.StatusRefunded, patch)
	if err != nil {
		p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.refund_complete_update_failed")
		return
	}
	if ok {
		if p.metrics != nil {
			p.metrics.OfframpRefundsTotal.WithLabelValues("refunded").Inc()
		}
		p.log.Info().
			Str("transaction_id", tx.ID).
			Str("hash", hash).
			Msg("offramp.refunded")
		p.notifyStatus(ctx, tx, transaction.StatusRefunded, "")
	}
}

// recoverStuckRefunds settles refunding rows left behind by a crash. A
// recorded hash means the submission happened: finish the transition.
// No hash after the stuck window means we cannot know whether the
// payment left, so the row goes to manual review rather than risking a
// double refund.
func (p *Processor) recoverStuckRefunds(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, transaction.DirectionOfframp,
		transaction.StatusRefunding, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, tx := range batch {
		if tx.Metadata.RefundTxHash != "" {
			ok, err := p.store.UpdateStatus(ctx, tx.ID,
				transaction.StatusRefunding, transaction.StatusRefunded)
			if err != nil {
				p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.refund_recovery_failed")
				continue
			}
			if ok {
				if p.metrics != nil {
					p.metrics.OfframpRefundsTotal.WithLabelValues("refunded").Inc()
				}
				p.log.Info().Str("transaction_id", tx.ID).Msg("offramp.refund_recovered")
			}
			continue
		}

		if p.now().Sub(tx.UpdatedAt) < p.cfg.RefundStuckAfter {
			continue
		}
		patch := &transaction.Metadata{FailureReason: transaction.ReasonRefundFailed}
		ok, err := p.store.UpdateStatusWithError(ctx, tx.ID,
			transaction.StatusRefunding, transaction.StatusFailed,
			transaction.ReasonRefundFailed, patch)
		if err != nil {
			p.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("offramp.refund_recovery_failed")
			continue
		}
		if ok {
			if p.metrics != nil {
				p.metrics.OfframpRefundsTotal.WithLabelValues("failed").Inc()
			}
			p.log.Error().
				Str("transaction_id", tx.ID).
				Msg("offramp.refund_stuck_manual_review")
		}
	}
	return nil
}

func (p *Processor) providerFor(tx *transaction.Transaction) providers.Provider {
	if tx.Metadata.ProviderName != "" {
		if provider, ok := p.registry.ByName(tx.Metadata.ProviderName); ok {
			return provider
		}
	}
	return p.registry.Primary()
}

func (p *Processor) observeStage(stage, outcome string) {
	if p.metrics != nil {
		p.metrics.OfframpStageTransitionsTotal.WithLabelValues(stage, outcome).Inc()
	}
}

func (p *Processor) notifyStatus(ctx context.Context, tx *transaction.Transaction, status transaction.Status, reason string) {
	snapshot := *tx
	snapshot.Status = status
	snapshot.ErrorMessage = reason
	if reason != "" {
		snapshot.Metadata.FailureReason = reason
	}
	if err := p.notifier.Notify(ctx, &snapshot); err != nil {
		p.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("offramp.notify_failed")
	}
}

func recoverableProviderError(err error) bool {
	var pErr *providers.Error
	if stderrors.As(err, &pErr) {
		return pErr.Recoverable()
	}
	return true
}

// lockStamp records which instance claimed the row and when, written
// alongside the claiming transition.
func (p *Processor) lockStamp() *transaction.Metadata {
	return &transaction.Metadata{
		LockedAt: p.now().UTC().Format(time.RFC3339),
		LockedBy: p.instance,
	}
}

// processInstance identifies this engine instance in lock metadata so a
// stuck row can be traced to the process that claimed it.
func processInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "offramp"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
