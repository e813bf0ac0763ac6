package quotes

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/strkey"

	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

var hundred = decimal.NewFromInt(100)

// Service issues fixed-rate quotes and converts consumed quotes into
// transactions. Amounts are computed once here and never recomputed
// downstream.
type Service struct {
	quotes       storage.QuoteStore
	transactions storage.TransactionStore
	ttl          time.Duration
	rate         decimal.Decimal
	feePercent   decimal.Decimal
	flatFee      decimal.Decimal
	minAmount    decimal.Decimal
	maxAmount    decimal.Decimal
	log          zerolog.Logger
	now          func() time.Time
}

// NewService creates a quote service from configuration. The decimal
// fields are validated here so a bad rate fails startup, not a request.
func NewService(quotes storage.QuoteStore, transactions storage.TransactionStore, cfg config.QuotesConfig, log zerolog.Logger) (*Service, error) {
	rate, err := decimal.NewFromString(cfg.StaticRate)
	if err != nil || !rate.IsPositive() {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeConfigError,
			"quotes.static_rate must be a positive decimal")
	}
	feePercent, err := decimal.NewFromString(cfg.FeePercent)
	if err != nil || feePercent.IsNegative() {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeConfigError,
			"quotes.fee_percent must be a non-negative decimal")
	}
	flatFee, err := decimal.NewFromString(cfg.FlatFee)
	if err != nil || flatFee.IsNegative() {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeConfigError,
			"quotes.flat_fee must be a non-negative decimal")
	}
	minAmount, err := decimal.NewFromString(cfg.MinAmountNGN)
	if err != nil {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeConfigError,
			"quotes.min_amount_ngn must be a decimal")
	}
	maxAmount, err := decimal.NewFromString(cfg.MaxAmountNGN)
	if err != nil {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeConfigError,
			"quotes.max_amount_ngn must be a decimal")
	}

	return &Service{
		quotes:       quotes,
		transactions: transactions,
		ttl:          cfg.TTL.Duration,
		rate:         rate,
		feePercent:   feePercent,
		flatFee:      flatFee,
		minAmount:    minAmount,
		maxAmount:    maxAmount,
		log:          log.With().Str("component", "quotes").Logger(),
		now:          time.Now,
	}, nil
}

// Create issues a quote for the given NGN amount. The rate and fee are
// locked until the quote expires.
func (s *Service) Create(ctx context.Context, direction transaction.Direction, amountNGN decimal.Decimal) (*storage.Quote, error) {
	if direction != transaction.DirectionOnramp && direction != transaction.DirectionOfframp {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidField,
			"direction must be onramp or offramp")
	}
	if amountNGN.LessThan(s.minAmount) {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidAmount,
			"amount below minimum of "+s.minAmount.String()+" NGN")
	}
	if amountNGN.GreaterThan(s.maxAmount) {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidAmount,
			"amount above maximum of "+s.maxAmount.String()+" NGN")
	}

	fee := amountNGN.Mul(s.feePercent).Div(hundred).Add(s.flatFee).Round(2)
	if fee.GreaterThanOrEqual(amountNGN) {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidAmount,
			"amount does not cover fees")
	}

	// Onramp: the user pays amountNGN and receives the net converted to
	// cNGN. Offramp: the user deposits the gross converted to cNGN and
	// receives the net in NGN.
	var amountCngn decimal.Decimal
	if direction == transaction.DirectionOnramp {
		amountCngn = amountNGN.Sub(fee).Div(s.rate).Round(7)
	} else {
		amountCngn = amountNGN.Div(s.rate).Round(7)
	}

	quote := &storage.Quote{
		ID:         uuid.NewString(),
		Direction:  direction,
		Rate:       s.rate,
		AmountNGN:  amountNGN,
		FeeNGN:     fee,
		AmountCngn: amountCngn,
		ExpiresAt:  s.now().Add(s.ttl),
	}
	if err := s.quotes.Create(ctx, quote); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("quote_id", quote.ID).
		Str("direction", string(direction)).
		Str("amount_ngn", amountNGN.String()).
		Str("fee_ngn", fee.String()).
		Msg("quotes.created")

	return quote, nil
}

// BankDetails is the payout destination for an offramp confirmation.
type BankDetails struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name,omitempty"`
}

// ConfirmRequest locks a quote into a transaction.
type ConfirmRequest struct {
	QuoteID       string       `json:"quote_id"`
	WalletAddress string       `json:"wallet_address"`
	BankDetails   *BankDetails `json:"bank_details,omitempty"`
}

// Confirm consumes the quote exactly once and creates the transaction
// with amounts copied from the quote. A lost consume race or an expired
// quote never creates a row.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*transaction.Transaction, error) {
	if req.QuoteID == "" {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeMissingField, "quote_id is required")
	}
	if !strkey.IsValidEd25519PublicKey(req.WalletAddress) {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidWallet,
			"wallet_address is not a valid Stellar public key")
	}

	// Validate against the stored quote before consuming it, so a bad
	// request does not burn the user's quote.
	preview, err := s.quotes.FindByID(ctx, req.QuoteID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.New(errors.KindDomain, errors.ErrCodeQuoteNotFound, "quote not found")
		}
		return nil, err
	}
	if preview.Direction == transaction.DirectionOfframp {
		if req.BankDetails == nil {
			return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidBank,
				"bank_details are required for offramp")
		}
		if req.BankDetails.AccountName == "" || req.BankDetails.AccountNumber == "" || req.BankDetails.BankCode == "" {
			return nil, errors.New(errors.KindValidation, errors.ErrCodeInvalidBank,
				"bank_details require account_name, account_number, and bank_code")
		}
	}

	quote, err := s.quotes.Consume(ctx, req.QuoteID, s.now())
	if err != nil {
		switch err {
		case storage.ErrNotFound:
			return nil, errors.New(errors.KindDomain, errors.ErrCodeQuoteNotFound, "quote not found")
		case storage.ErrQuoteExpired:
			return nil, errors.New(errors.KindDomain, errors.ErrCodeQuoteExpired, "quote has expired")
		case storage.ErrQuoteConsumed:
			return nil, errors.New(errors.KindDomain, errors.ErrCodeQuoteAlreadyConsumed, "quote already used")
		}
		return nil, err
	}

	tx := &transaction.Transaction{
		ID:            uuid.NewString(),
		Direction:     quote.Direction,
		Status:        transaction.InitialStatus(quote.Direction),
		WalletAddress: req.WalletAddress,
	}

	if quote.Direction == transaction.DirectionOnramp {
		tx.FromAmount = quote.AmountNGN
		tx.FromCurrency = "NGN"
		tx.ToAmount = quote.AmountCngn
		tx.ToCurrency = "cNGN"
		tx.PaymentReference = paymentReference()
	} else {
		tx.FromAmount = quote.AmountCngn
		tx.FromCurrency = "cNGN"
		tx.ToAmount = quote.AmountNGN.Sub(quote.FeeNGN)
		tx.ToCurrency = "NGN"
		tx.Metadata = transaction.Metadata{
			AccountName:   req.BankDetails.AccountName,
			AccountNumber: req.BankDetails.AccountNumber,
			BankCode:      req.BankDetails.BankCode,
			BankName:      req.BankDetails.BankName,
		}
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("transaction_id", tx.ID).
		Str("quote_id", quote.ID).
		Str("direction", string(tx.Direction)).
		Msg("quotes.confirmed")

	return tx, nil
}

// paymentReference generates the reference the user attaches to their
// fiat payment. Uppercase without dashes so it survives bank narration
// fields.
func paymentReference() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "NGN-" + id[:12]
}
