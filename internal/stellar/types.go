package stellar

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one asset line on a Stellar account.
type Balance struct {
	AssetType   string
	AssetCode   string
	AssetIssuer string
	Amount      decimal.Decimal
}

// Account is the subset of a Horizon account record the bridge needs.
type Account struct {
	ID       string
	Sequence int64
	Balances []Balance
}

// TransactionInfo is the subset of a Horizon transaction record the
// bridge needs for confirmation checks.
type TransactionInfo struct {
	Hash       string
	Successful bool
	Ledger     int32
	Memo       string
	CreatedAt  time.Time
}

// PaymentOperation is one payment inside a Stellar transaction, used to
// verify incoming cNGN receipts.
type PaymentOperation struct {
	From        string
	To          string
	AssetCode   string
	AssetIssuer string
	Amount      decimal.Decimal
}

// Asset identifies the cNGN credit asset.
type Asset struct {
	Code   string
	Issuer string
}

// TrustlineFor reports whether the account holds a trustline for the
// asset, and its current balance if so.
func (a *Account) TrustlineFor(asset Asset) (Balance, bool) {
	for _, b := range a.Balances {
		if b.AssetCode == asset.Code && b.AssetIssuer == asset.Issuer {
			return b, true
		}
	}
	return Balance{}, false
}
