package stellar

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/logger"
)

// MaxMemoBytes is the Stellar MEMO_TEXT limit.
const MaxMemoBytes = 28

// PaymentService builds, signs, and submits cNGN payments from the hot
// wallet. Submission returns the hash as soon as Horizon accepts the
// envelope; ledger inclusion is checked separately via Confirmed.
type PaymentService struct {
	gateway           Gateway
	hotWallet         *keypair.Full
	networkPassphrase string
	asset             Asset
	paymentTimeout    int64
	log               zerolog.Logger
}

// NewPaymentService creates a payment service. hotWalletSecret must be
// a Stellar secret seed.
func NewPaymentService(gateway Gateway, hotWalletSecret, networkPassphrase string, asset Asset, log zerolog.Logger) (*PaymentService, error) {
	kp, err := keypair.ParseFull(hotWalletSecret)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, errors.ErrCodeConfigError,
			"parse hot wallet secret", err)
	}
	return &PaymentService{
		gateway:           gateway,
		hotWallet:         kp,
		networkPassphrase: networkPassphrase,
		asset:             asset,
		paymentTimeout:    300,
		log:               log.With().Str("component", "stellar_payments").Logger(),
	}, nil
}

// HotWalletAddress returns the public key payments are sent from.
func (s *PaymentService) HotWalletAddress() string {
	return s.hotWallet.Address()
}

// HasTrustline reports whether the destination account holds a cNGN
// trustline. A missing account counts as no trustline.
func (s *PaymentService) HasTrustline(ctx context.Context, accountID string) (bool, error) {
	account, err := s.gateway.AccountDetail(ctx, accountID)
	if err != nil {
		return false, err
	}
	_, ok := account.TrustlineFor(s.asset)
	return ok, nil
}

// HotWalletBalance returns the hot wallet's spendable cNGN balance.
func (s *PaymentService) HotWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	account, err := s.gateway.AccountDetail(ctx, s.hotWallet.Address())
	if err != nil {
		return decimal.Zero, err
	}
	balance, ok := account.TrustlineFor(s.asset)
	if !ok {
		return decimal.Zero, errors.New(errors.KindInvariant, errors.ErrCodeConfigError,
			"hot wallet has no trustline for "+s.asset.Code)
	}
	return balance.Amount, nil
}

// Send submits a cNGN payment and returns the transaction hash. memo
// may be empty; longer memos are truncated to the MEMO_TEXT limit.
func (s *PaymentService) Send(ctx context.Context, destination string, amount decimal.Decimal, memo string) (string, error) {
	source, err := s.gateway.AccountDetail(ctx, s.hotWallet.Address())
	if err != nil {
		return "", err
	}

	params := txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: source.ID,
			Sequence:  source.Sequence,
		},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: destination,
				Amount:      amount.StringFixed(7),
				Asset: txnbuild.CreditAsset{
					Code:   s.asset.Code,
					Issuer: s.asset.Issuer,
				},
			},
		},
		BaseFee: txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(s.paymentTimeout),
		},
	}
	if memo != "" {
		params.Memo = txnbuild.MemoText(TruncateMemo(memo))
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return "", errors.Wrap(errors.KindInvariant, errors.ErrCodeHorizonError,
			"build payment transaction", err)
	}

	signed, err := tx.Sign(s.networkPassphrase, s.hotWallet)
	if err != nil {
		return "", errors.Wrap(errors.KindInvariant, errors.ErrCodeHorizonError,
			"sign payment transaction", err)
	}

	envelope, err := signed.Base64()
	if err != nil {
		return "", errors.Wrap(errors.KindInvariant, errors.ErrCodeHorizonError,
			"encode payment envelope", err)
	}

	info, err := s.gateway.SubmitXDR(ctx, envelope)
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("hash", info.Hash).
		Str("destination", logger.TruncateAddress(destination)).
		Str("amount", amount.String()).
		Msg("stellar.payment_submitted")

	return info.Hash, nil
}

// Confirmed checks whether the submitted transaction has been included
// in a closed ledger. Returns (nil, nil) while the transaction is not
// yet visible.
func (s *PaymentService) Confirmed(ctx context.Context, hash string) (*TransactionInfo, error) {
	info, err := s.gateway.TransactionDetail(ctx, hash)
	if err != nil {
		if err == ErrTransactionNotFound {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// IncomingCngnAmount scans the payment operations of the transaction at
// hash for a cNGN payment into destination and returns its amount.
// Multiple matching payments in one transaction are summed.
func (s *PaymentService) IncomingCngnAmount(ctx context.Context, hash, destination string) (decimal.Decimal, bool, error) {
	ops, err := s.gateway.PaymentOperations(ctx, hash)
	if err != nil {
		return decimal.Zero, false, err
	}

	total := decimal.Zero
	found := false
	for _, op := range ops {
		if op.To != destination {
			continue
		}
		if op.AssetCode != s.asset.Code || op.AssetIssuer != s.asset.Issuer {
			continue
		}
		total = total.Add(op.Amount)
		found = true
	}
	return total, found, nil
}

// TruncateMemo caps a memo at the MEMO_TEXT byte limit.
func TruncateMemo(memo string) string {
	if len(memo) <= MaxMemoBytes {
		return memo
	}
	return memo[:MaxMemoBytes]
}

// RefundMemo builds the memo stamped on cNGN refund payments so a
// refund is traceable to its transaction from chain data alone.
func RefundMemo(txID string) string {
	return TruncateMemo(fmt.Sprintf("REFUND-%s", txID))
}
