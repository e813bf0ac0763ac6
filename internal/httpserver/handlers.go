package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/quotes"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

// maxBodyBytes bounds every request body read.
const maxBodyBytes = 1 << 20

func (s *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createQuoteRequest struct {
	Direction string `json:"direction"`
	AmountNGN string `json:"amount_ngn"`
}

type quoteResponse struct {
	ID         string `json:"id"`
	Direction  string `json:"direction"`
	Rate       string `json:"rate"`
	AmountNGN  string `json:"amount_ngn"`
	FeeNGN     string `json:"fee_ngn"`
	AmountCngn string `json:"amount_cngn"`
	ExpiresAt  string `json:"expires_at"`
}

func (s *handlers) createQuote(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	amount, err := decimal.NewFromString(req.AmountNGN)
	if err != nil {
		writeError(w, r, errors.New(errors.KindValidation, errors.ErrCodeInvalidAmount,
			"amount_ngn must be a decimal string"))
		return
	}

	quote, err := s.quotes.Create(r.Context(), transaction.Direction(req.Direction), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toQuoteResponse(quote))
}

func (s *handlers) confirmQuote(w http.ResponseWriter, r *http.Request) {
	var req quotes.ConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.quotes.Confirm(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (s *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, r, errors.New(errors.KindDomain, errors.ErrCodeTransactionNotFound,
				"transaction not found"))
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

type depositRequest struct {
	TxHash string `json:"tx_hash"`
}

func (s *handlers) recordDeposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.deposits.HandleCngnReceived(r.Context(), id, req.TxHash); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, errors.Wrap(errors.KindValidation, errors.ErrCodeMalformedEvent,
			"read webhook body", err))
		return
	}

	if err := s.webhooks.Ingest(r.Context(), provider, r.Header, body); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// transactionResponse is the public view of a transaction. Provider
// payloads and internal bookkeeping stay out of it.
type transactionResponse struct {
	ID               string `json:"id"`
	Direction        string `json:"direction"`
	Status           string `json:"status"`
	FromAmount       string `json:"from_amount"`
	FromCurrency     string `json:"from_currency"`
	ToAmount         string `json:"to_amount"`
	ToCurrency       string `json:"to_currency"`
	WalletAddress    string `json:"wallet_address"`
	PaymentReference string `json:"payment_reference,omitempty"`
	BlockchainTxHash string `json:"blockchain_tx_hash,omitempty"`
	RefundTxHash     string `json:"refund_tx_hash,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func toTransactionResponse(tx *transaction.Transaction) transactionResponse {
	return transactionResponse{
		ID:               tx.ID,
		Direction:        string(tx.Direction),
		Status:           string(tx.Status),
		FromAmount:       tx.FromAmount.String(),
		FromCurrency:     tx.FromCurrency,
		ToAmount:         tx.ToAmount.String(),
		ToCurrency:       tx.ToCurrency,
		WalletAddress:    tx.WalletAddress,
		PaymentReference: tx.PaymentReference,
		BlockchainTxHash: tx.BlockchainTxHash,
		RefundTxHash:     tx.Metadata.RefundTxHash,
		FailureReason:    tx.Metadata.FailureReason,
		CreatedAt:        tx.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        tx.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toQuoteResponse(q *storage.Quote) quoteResponse {
	return quoteResponse{
		ID:         q.ID,
		Direction:  string(q.Direction),
		Rate:       q.Rate.String(),
		AmountNGN:  q.AmountNGN.String(),
		FeeNGN:     q.FeeNGN.String(),
		AmountCngn: q.AmountCngn.String(),
		ExpiresAt:  q.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return errors.Wrap(errors.KindValidation, errors.ErrCodeInvalidField,
			"decode request body", err)
	}
	return nil
}
