package onramp

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/notification"
	"github.com/nairabridge/server/internal/providers"
	"github.com/nairabridge/server/internal/retry"
	"github.com/nairabridge/server/internal/stellar"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

type fakeGateway struct {
	hasTrustline  bool
	trustlineErr  error
	balance       decimal.Decimal
	sendHash      string
	sendErrs      []error // consumed per call; nil entry means success
	sendCalls     int
	confirmedInfo *stellar.TransactionInfo
	confirmedErr  error
}

func (f *fakeGateway) HasTrustline(context.Context, string) (bool, error) {
	return f.hasTrustline, f.trustlineErr
}

func (f *fakeGateway) HotWalletBalance(context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeGateway) Send(context.Context, string, decimal.Decimal, string) (string, error) {
	call := f.sendCalls
	f.sendCalls++
	if call < len(f.sendErrs) && f.sendErrs[call] != nil {
		return "", f.sendErrs[call]
	}
	return f.sendHash, nil
}

func (f *fakeGateway) Confirmed(context.Context, string) (*stellar.TransactionInfo, error) {
	return f.confirmedInfo, f.confirmedErr
}

type fakeProvider struct {
	name         string
	verification *providers.PaymentVerification
	verifyErr    error
	refund       *providers.RefundResponse
	refundErr    error
	refundCalls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) VerifyPayment(context.Context, string) (*providers.PaymentVerification, error) {
	return f.verification, f.verifyErr
}

func (f *fakeProvider) ProcessWithdrawal(context.Context, providers.WithdrawalRequest) (*providers.WithdrawalResponse, error) {
	return nil, &providers.Error{Provider: f.name, Kind: providers.ErrInvalidRequest, Msg: "not supported"}
}

func (f *fakeProvider) GetTransferStatus(context.Context, string) (providers.TransferStatus, error) {
	return providers.TransferPending, nil
}

func (f *fakeProvider) InitiateRefund(context.Context, providers.RefundRequest) (*providers.RefundResponse, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refund, nil
}

func (f *fakeProvider) VerifyWebhookSignature(http.Header, []byte) error { return nil }

func (f *fakeProvider) ParseWebhook([]byte) (*providers.WebhookEvent, error) { return nil, nil }

type fakeRegistry struct {
	provider *fakeProvider
}

func (r *fakeRegistry) Select(int) providers.Provider { return r.provider }

func (r *fakeRegistry) ByName(name string) (providers.Provider, bool) {
	if name == r.provider.name {
		return r.provider, true
	}
	return nil, false
}

func (r *fakeRegistry) Primary() providers.Provider { return r.provider }

func testConfig() Config {
	return Config{
		PollInterval:        30 * time.Second,
		BatchSize:           50,
		PendingTimeout:      30 * time.Minute,
		WebhookGracePeriod:  2 * time.Minute,
		StellarRetry:        retry.Policy{MaxAttempts: 3},
		RefundRetry:         retry.Policy{MaxAttempts: 3},
		ConfirmationTimeout: 5 * time.Minute,
	}
}

func newOnrampTransaction(store *storage.MemoryStore) *transaction.Transaction {
	tx := &transaction.Transaction{
		ID:               uuid.NewString(),
		Direction:        transaction.DirectionOnramp,
		Status:           transaction.StatusPending,
		FromAmount:       decimal.NewFromInt(50000),
		FromCurrency:     "NGN",
		ToAmount:         decimal.NewFromInt(49650),
		ToCurrency:       "cNGN",
		WalletAddress:    "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
		PaymentProvider:  "flutterwave",
		PaymentReference: "NGN-12345",
	}
	if err := store.Create(context.Background(), tx); err != nil {
		panic(err)
	}
	return tx
}

func newProcessor(store *storage.MemoryStore, gw *fakeGateway, provider *fakeProvider) *Processor {
	return New(store, gw, &fakeRegistry{provider: provider}, notification.Noop{}, nil, testConfig(), zerolog.Nop())
}

func successfulVerification(tx *transaction.Transaction) *providers.PaymentVerification {
	return &providers.PaymentVerification{
		Reference: tx.PaymentReference,
		Status:    providers.PaymentSuccessful,
		Amount:    tx.FromAmount,
		Currency:  "NGN",
	}
}

func TestHappyPathToCompleted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: true, balance: decimal.NewFromInt(1000000), sendHash: "stellar-hash-1"}
	provider := &fakeProvider{name: "flutterwave"}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, successfulVerification(tx), "webhook"); err != nil {
		t.Fatalf("HandlePaymentConfirmed: %v", err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusProcessing {
		t.Fatalf("status = %s, want processing after submission", got.Status)
	}
	if got.BlockchainTxHash != "stellar-hash-1" {
		t.Errorf("hash = %q, want stellar-hash-1", got.BlockchainTxHash)
	}
	if got.Metadata.StellarTxHash != "stellar-hash-1" {
		t.Errorf("metadata hash = %q", got.Metadata.StellarTxHash)
	}
	if got.Metadata.LockedBy == "" || got.Metadata.LockedAt == "" {
		t.Errorf("claim did not stamp lock metadata: locked_by=%q locked_at=%q",
			got.Metadata.LockedBy, got.Metadata.LockedAt)
	}

	// Next cycle: the ledger has the transaction.
	gw.confirmedInfo = &stellar.TransactionInfo{Hash: "stellar-hash-1", Successful: true, Ledger: 321}
	if err := p.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	got, _ = store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Metadata.StellarLedger != 321 {
		t.Errorf("ledger = %d, want 321", got.Metadata.StellarLedger)
	}
}

func TestMissingTrustlineFailsAndInitiatesRefund(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: false, balance: decimal.NewFromInt(1000000)}
	provider := &fakeProvider{name: "flutterwave", refund: &providers.RefundResponse{RefundReference: "rf-1"}}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, successfulVerification(tx), "webhook"); err != nil {
		t.Fatalf("HandlePaymentConfirmed: %v", err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Metadata.FailureReason != transaction.ReasonTrustlineNotFound {
		t.Errorf("failure reason = %q, want TRUSTLINE_NOT_FOUND", got.Metadata.FailureReason)
	}
	if got.Metadata.RefundReference != "rf-1" {
		t.Errorf("refund reference = %q, want rf-1", got.Metadata.RefundReference)
	}
	if provider.refundCalls != 1 {
		t.Errorf("refundCalls = %d, want 1", provider.refundCalls)
	}
	if gw.sendCalls != 0 {
		t.Errorf("cNGN transfer attempted despite missing trustline")
	}
}

func TestInsufficientLiquidityFailsAndInitiatesRefund(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: true, balance: decimal.NewFromInt(10)}
	provider := &fakeProvider{name: "flutterwave", refund: &providers.RefundResponse{RefundReference: "rf-2"}}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, successfulVerification(tx), "webhook"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Metadata.FailureReason != transaction.ReasonInsufficientCngnBalance {
		t.Errorf("failure reason = %q, want INSUFFICIENT_CNGN_BALANCE", got.Metadata.FailureReason)
	}
	if got.Metadata.RefundReference != "rf-2" {
		t.Errorf("refund reference = %q, want rf-2", got.Metadata.RefundReference)
	}
}

func TestAmountMismatchLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: true, balance: decimal.NewFromInt(1000000), sendHash: "h"}
	provider := &fakeProvider{name: "flutterwave"}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	short := &providers.PaymentVerification{
		Reference: tx.PaymentReference,
		Status:    providers.PaymentSuccessful,
		Amount:    decimal.NewFromInt(45000),
	}
	if err := p.HandlePaymentConfirmed(ctx, tx.ID, short, "webhook"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusPending {
		t.Fatalf("status = %s, want pending after mismatch", got.Status)
	}
	if gw.sendCalls != 0 {
		t.Error("transfer attempted despite amount mismatch")
	}
}

func TestDuplicateConfirmationIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: true, balance: decimal.NewFromInt(1000000), sendHash: "h1"}
	provider := &fakeProvider{name: "flutterwave"}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)
	v := successfulVerification(tx)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, v, "webhook"); err != nil {
		t.Fatal(err)
	}
	// Redelivered webhook and the poll fallback race the same payment.
	if err := p.HandlePaymentConfirmed(ctx, tx.ID, v, "webhook"); err != nil {
		t.Fatal(err)
	}
	if err := p.HandlePaymentConfirmed(ctx, tx.ID, v, "poll"); err != nil {
		t.Fatal(err)
	}

	if gw.sendCalls != 1 {
		t.Errorf("Send called %d times, want exactly 1", gw.sendCalls)
	}
}

func TestTransientSubmitErrorsRetried(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	transient := errors.New(errors.KindExternalTransient, errors.ErrCodeHorizonError, "tx_bad_seq")
	gw := &fakeGateway{
		hasTrustline: true,
		balance:      decimal.NewFromInt(1000000),
		sendHash:     "h-final",
		sendErrs:     []error{transient, transient, nil},
	}
	provider := &fakeProvider{name: "flutterwave"}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, successfulVerification(tx), "webhook"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.BlockchainTxHash != "h-final" {
		t.Errorf("hash = %q, want h-final after retries", got.BlockchainTxHash)
	}
	if gw.sendCalls != 3 {
		t.Errorf("sendCalls = %d, want 3", gw.sendCalls)
	}
}

func TestPermanentSubmitErrorFailsAndInitiatesRefund(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	permanent := errors.New(errors.KindExternalPermanent, errors.ErrCodeHorizonError, "tx_insufficient_balance")
	gw := &fakeGateway{
		hasTrustline: true,
		balance:      decimal.NewFromInt(1000000),
		sendErrs:     []error{permanent},
	}
	provider := &fakeProvider{name: "flutterwave", refund: &providers.RefundResponse{RefundReference: "rf-3"}}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, successfulVerification(tx), "webhook"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Metadata.FailureReason != transaction.ReasonStellarPermanentError {
		t.Errorf("failure reason = %q", got.Metadata.FailureReason)
	}
	if got.Metadata.RefundReference != "rf-3" {
		t.Errorf("refund reference = %q, want rf-3", got.Metadata.RefundReference)
	}
	if gw.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1 for a permanent error", gw.sendCalls)
	}
}

func TestRefundInitiationFailureEndsInFailed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: false}
	provider := &fakeProvider{
		name:      "flutterwave",
		refundErr: &providers.Error{Provider: "flutterwave", Kind: providers.ErrInvalidRequest, Msg: "unknown transaction"},
	}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)

	if err := p.HandlePaymentConfirmed(ctx, tx.ID, successfulVerification(tx), "webhook"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusFailed {
		t.Fatalf("status = %s, want failed for manual review", got.Status)
	}
	if provider.refundCalls != 1 {
		t.Errorf("refundCalls = %d, want 1 for non-recoverable refund error", provider.refundCalls)
	}
}

func TestTimeoutSweep(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{}
	provider := &fakeProvider{name: "flutterwave"}
	p := newProcessor(store, gw, provider)

	// One row past the payment window, one fresh.
	stale := &transaction.Transaction{
		ID:               uuid.NewString(),
		Direction:        transaction.DirectionOnramp,
		Status:           transaction.StatusPending,
		FromAmount:       decimal.NewFromInt(50000),
		ToAmount:         decimal.NewFromInt(49650),
		PaymentProvider:  "flutterwave",
		PaymentReference: "NGN-OLD",
		CreatedAt:        time.Now().Add(-31 * time.Minute),
	}
	if err := store.Create(ctx, stale); err != nil {
		t.Fatal(err)
	}
	fresh := newOnrampTransaction(store)

	// The polling fallback also sees the stale row if the sweep misses
	// it; make the provider report it still pending.
	provider.verification = &providers.PaymentVerification{Status: providers.PaymentPending}

	if err := p.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	gotStale, _ := store.FindByID(ctx, stale.ID)
	if gotStale.Status != transaction.StatusFailed {
		t.Errorf("stale status = %s, want failed", gotStale.Status)
	}
	if gotStale.ErrorMessage != transaction.ReasonPaymentTimeout {
		t.Errorf("error message = %q, want PAYMENT_TIMEOUT", gotStale.ErrorMessage)
	}
	gotFresh, _ := store.FindByID(ctx, fresh.ID)
	if gotFresh.Status != transaction.StatusPending {
		t.Errorf("fresh status = %s, want pending", gotFresh.Status)
	}
}

func TestPollingFallbackConfirms(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{hasTrustline: true, balance: decimal.NewFromInt(1000000), sendHash: "h-poll"}
	provider := &fakeProvider{name: "flutterwave"}
	p := newProcessor(store, gw, provider)

	tx := newOnrampTransaction(store)
	provider.verification = successfulVerification(tx)

	// Old enough for the fallback but inside the payment window and
	// the confirmation timeout.
	p.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	if err := p.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	got, _ := store.FindByID(ctx, tx.ID)
	if got.Status != transaction.StatusProcessing {
		t.Fatalf("status = %s, want processing via poll fallback", got.Status)
	}
	if got.BlockchainTxHash != "h-poll" {
		t.Errorf("hash = %q", got.BlockchainTxHash)
	}
}
