package stellar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/nairabridge/server/internal/circuitbreaker"
	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/metrics"
)

// ErrTransactionNotFound is returned by TransactionDetail while a
// submitted transaction has not yet appeared in a closed ledger.
var ErrTransactionNotFound = errors.New(errors.KindExternalTransient,
	errors.ErrCodeHorizonError, "transaction not found on ledger")

// Gateway is the narrow Horizon surface the bridge depends on. The
// production implementation wraps the Horizon client; tests substitute
// a fake.
type Gateway interface {
	AccountDetail(ctx context.Context, accountID string) (*Account, error)
	TransactionDetail(ctx context.Context, hash string) (*TransactionInfo, error)
	PaymentOperations(ctx context.Context, hash string) ([]PaymentOperation, error)
	SubmitXDR(ctx context.Context, envelopeXDR string) (*TransactionInfo, error)
}

// HorizonGateway implements Gateway against a Horizon instance, with
// circuit breaking and call metrics.
type HorizonGateway struct {
	client   *horizonclient.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewHorizonGateway creates a gateway for the given Horizon URL.
// breakers and m may be nil.
func NewHorizonGateway(horizonURL string, httpClient *http.Client, breakers *circuitbreaker.Manager, m *metrics.Metrics) *HorizonGateway {
	client := &horizonclient.Client{
		HorizonURL: horizonURL,
		HTTP:       httpClient,
	}
	return &HorizonGateway{client: client, breakers: breakers, metrics: m}
}

func (g *HorizonGateway) AccountDetail(ctx context.Context, accountID string) (*Account, error) {
	start := time.Now()
	result, err := g.execute(ctx, func() (interface{}, error) {
		return g.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	})
	g.metrics.ObserveHorizonCall("account_detail", time.Since(start), err)
	if err != nil {
		return nil, classifyHorizonError("load account", err)
	}

	account := result.(hProtocol.Account)
	return convertAccount(account)
}

func (g *HorizonGateway) TransactionDetail(ctx context.Context, hash string) (*TransactionInfo, error) {
	start := time.Now()
	result, err := g.execute(ctx, func() (interface{}, error) {
		return g.client.TransactionDetail(hash)
	})
	g.metrics.ObserveHorizonCall("transaction_detail", time.Since(start), err)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, classifyHorizonError("load transaction", err)
	}

	tx := result.(hProtocol.Transaction)
	return convertTransaction(tx), nil
}

func (g *HorizonGateway) PaymentOperations(ctx context.Context, hash string) ([]PaymentOperation, error) {
	start := time.Now()
	result, err := g.execute(ctx, func() (interface{}, error) {
		return g.client.Payments(horizonclient.OperationRequest{ForTransaction: hash})
	})
	g.metrics.ObserveHorizonCall("payment_operations", time.Since(start), err)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, classifyHorizonError("load payment operations", err)
	}

	page := result.(operations.OperationsPage)
	out := make([]PaymentOperation, 0, len(page.Embedded.Records))
	for _, record := range page.Embedded.Records {
		payment, ok := record.(operations.Payment)
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse payment amount %q in %s: %w", payment.Amount, hash, err)
		}
		out = append(out, PaymentOperation{
			From:        payment.From,
			To:          payment.To,
			AssetCode:   payment.Code,
			AssetIssuer: payment.Issuer,
			Amount:      amount,
		})
	}
	return out, nil
}

func (g *HorizonGateway) SubmitXDR(ctx context.Context, envelopeXDR string) (*TransactionInfo, error) {
	start := time.Now()
	result, err := g.execute(ctx, func() (interface{}, error) {
		return g.client.SubmitTransactionXDR(envelopeXDR)
	})
	g.metrics.ObserveHorizonCall("submit_transaction", time.Since(start), err)
	if err != nil {
		return nil, classifyHorizonError("submit transaction", err)
	}

	tx := result.(hProtocol.Transaction)
	return convertTransaction(tx), nil
}

func (g *HorizonGateway) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.breakers == nil {
		return fn()
	}
	return g.breakers.Execute(circuitbreaker.ServiceHorizon, fn)
}

func convertAccount(a hProtocol.Account) (*Account, error) {
	out := &Account{
		ID:       a.AccountID,
		Sequence: a.Sequence,
		Balances: make([]Balance, 0, len(a.Balances)),
	}
	for _, b := range a.Balances {
		amount, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q for %s: %w", b.Balance, a.AccountID, err)
		}
		out.Balances = append(out.Balances, Balance{
			AssetType:   b.Type,
			AssetCode:   b.Code,
			AssetIssuer: b.Issuer,
			Amount:      amount,
		})
	}
	return out, nil
}

func convertTransaction(tx hProtocol.Transaction) *TransactionInfo {
	return &TransactionInfo{
		Hash:       tx.Hash,
		Successful: tx.Successful,
		Ledger:     tx.Ledger,
		Memo:       tx.Memo,
		CreatedAt:  tx.LedgerCloseTime,
	}
}
