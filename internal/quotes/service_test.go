package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

const testWallet = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func testQuotesConfig() config.QuotesConfig {
	return config.QuotesConfig{
		TTL:          config.Duration{Duration: 3 * time.Minute},
		RateSource:   "static",
		StaticRate:   "1.00",
		FeePercent:   "0.5",
		FlatFee:      "100",
		MinAmountNGN: "1000",
		MaxAmountNGN: "5000000",
	}
}

func newService(t *testing.T) (*Service, *storage.MemoryQuoteStore, *storage.MemoryStore) {
	t.Helper()
	quoteStore := storage.NewMemoryQuoteStore()
	txStore := storage.NewMemoryStore()
	svc, err := NewService(quoteStore, txStore, testQuotesConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, quoteStore, txStore
}

func TestCreateQuoteAmounts(t *testing.T) {
	tests := []struct {
		name      string
		direction transaction.Direction
		amountNGN string
		wantFee   string
		wantCngn  string
	}{
		// 0.5% of 50000 is 250, plus the 100 flat fee.
		{"onramp nets fee before conversion", transaction.DirectionOnramp, "50000", "350", "49650"},
		{"offramp converts the gross", transaction.DirectionOfframp, "50000", "350", "50000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newService(t)
			q, err := svc.Create(context.Background(), tt.direction, decimal.RequireFromString(tt.amountNGN))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if !q.FeeNGN.Equal(decimal.RequireFromString(tt.wantFee)) {
				t.Errorf("fee = %s, want %s", q.FeeNGN, tt.wantFee)
			}
			if !q.AmountCngn.Equal(decimal.RequireFromString(tt.wantCngn)) {
				t.Errorf("cNGN = %s, want %s", q.AmountCngn, tt.wantCngn)
			}
			if !q.Rate.Equal(decimal.RequireFromString("1.00")) {
				t.Errorf("rate = %s, want 1.00", q.Rate)
			}
		})
	}
}

func TestCreateQuoteValidation(t *testing.T) {
	tests := []struct {
		name      string
		direction transaction.Direction
		amountNGN string
		wantCode  errors.ErrorCode
	}{
		{"below minimum", transaction.DirectionOnramp, "500", errors.ErrCodeInvalidAmount},
		{"above maximum", transaction.DirectionOnramp, "6000000", errors.ErrCodeInvalidAmount},
		{"unknown direction", transaction.Direction("sideways"), "50000", errors.ErrCodeInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newService(t)
			_, err := svc.Create(context.Background(), tt.direction, decimal.RequireFromString(tt.amountNGN))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if errors.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %s, want %s", errors.CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestConfirmCreatesOnrampTransaction(t *testing.T) {
	ctx := context.Background()
	svc, _, txStore := newService(t)

	q, err := svc.Create(ctx, transaction.DirectionOnramp, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatal(err)
	}

	tx, err := svc.Confirm(ctx, ConfirmRequest{QuoteID: q.ID, WalletAddress: testWallet})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if tx.Status != transaction.StatusPending {
		t.Errorf("status = %s, want pending", tx.Status)
	}
	if !tx.FromAmount.Equal(q.AmountNGN) || tx.FromCurrency != "NGN" {
		t.Errorf("from = %s %s, want %s NGN", tx.FromAmount, tx.FromCurrency, q.AmountNGN)
	}
	if !tx.ToAmount.Equal(q.AmountCngn) || tx.ToCurrency != "cNGN" {
		t.Errorf("to = %s %s, want %s cNGN", tx.ToAmount, tx.ToCurrency, q.AmountCngn)
	}
	if tx.PaymentReference == "" {
		t.Error("onramp transaction missing payment reference")
	}

	stored, err := txStore.FindByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("transaction not persisted: %v", err)
	}
	if stored.WalletAddress != testWallet {
		t.Errorf("wallet = %q", stored.WalletAddress)
	}
}

func TestConfirmCreatesOfframpTransaction(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	q, err := svc.Create(ctx, transaction.DirectionOfframp, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatal(err)
	}

	tx, err := svc.Confirm(ctx, ConfirmRequest{
		QuoteID:       q.ID,
		WalletAddress: testWallet,
		BankDetails: &BankDetails{
			AccountName:   "Ada Obi",
			AccountNumber: "0123456789",
			BankCode:      "058",
		},
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if tx.Status != transaction.StatusPendingPayment {
		t.Errorf("status = %s, want pending_payment", tx.Status)
	}
	if !tx.FromAmount.Equal(q.AmountCngn) || tx.FromCurrency != "cNGN" {
		t.Errorf("from = %s %s", tx.FromAmount, tx.FromCurrency)
	}
	if !tx.ToAmount.Equal(decimal.RequireFromString("49650")) {
		t.Errorf("to = %s, want 49650 net of fees", tx.ToAmount)
	}
	if !tx.Metadata.HasBankDetails() {
		t.Error("bank details not carried onto the transaction")
	}
}

func TestConfirmValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	q, err := svc.Create(ctx, transaction.DirectionOfframp, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		req      ConfirmRequest
		wantCode errors.ErrorCode
	}{
		{"missing quote id", ConfirmRequest{WalletAddress: testWallet}, errors.ErrCodeMissingField},
		{"bad wallet", ConfirmRequest{QuoteID: q.ID, WalletAddress: "not-a-key"}, errors.ErrCodeInvalidWallet},
		{"missing bank details", ConfirmRequest{QuoteID: q.ID, WalletAddress: testWallet}, errors.ErrCodeInvalidBank},
		{"unknown quote", ConfirmRequest{QuoteID: "nope", WalletAddress: testWallet}, errors.ErrCodeQuoteNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Confirm(ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %s, want %s", errors.CodeOf(err), tt.wantCode)
			}
		})
	}

	// Validation failures must not burn the quote.
	_, err = svc.Confirm(ctx, ConfirmRequest{
		QuoteID:       q.ID,
		WalletAddress: testWallet,
		BankDetails:   &BankDetails{AccountName: "Ada Obi", AccountNumber: "0123456789", BankCode: "058"},
	})
	if err != nil {
		t.Errorf("quote unusable after rejected requests: %v", err)
	}
}

func TestConfirmConsumesQuoteOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	q, err := svc.Create(ctx, transaction.DirectionOnramp, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Confirm(ctx, ConfirmRequest{QuoteID: q.ID, WalletAddress: testWallet}); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}

	_, err = svc.Confirm(ctx, ConfirmRequest{QuoteID: q.ID, WalletAddress: testWallet})
	if errors.CodeOf(err) != errors.ErrCodeQuoteAlreadyConsumed {
		t.Errorf("code = %s, want quote_already_consumed", errors.CodeOf(err))
	}
}

func TestConfirmExpiredQuote(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	q, err := svc.Create(ctx, transaction.DirectionOnramp, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatal(err)
	}

	svc.now = func() time.Time { return time.Now().Add(4 * time.Minute) }

	_, err = svc.Confirm(ctx, ConfirmRequest{QuoteID: q.ID, WalletAddress: testWallet})
	if errors.CodeOf(err) != errors.ErrCodeQuoteExpired {
		t.Errorf("code = %s, want quote_expired", errors.CodeOf(err))
	}
}
