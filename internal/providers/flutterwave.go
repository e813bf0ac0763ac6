package providers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/circuitbreaker"
	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/metrics"
)

const flutterwaveName = "flutterwave"

// Flutterwave implements Provider against the Flutterwave v3 API.
// Webhooks are authenticated by comparing the verif-hash header against
// the configured secret.
type Flutterwave struct {
	rest          *restClient
	webhookSecret string
}

// NewFlutterwave creates a Flutterwave provider client.
func NewFlutterwave(cfg config.ProviderConfig, httpClient *http.Client, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Flutterwave {
	return &Flutterwave{
		rest: &restClient{
			name:     flutterwaveName,
			service:  circuitbreaker.ServiceFlutterwave,
			baseURL:  cfg.BaseURL,
			http:     httpClient,
			breakers: breakers,
			metrics:  m,
			headers: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
			},
		},
		webhookSecret: cfg.WebhookSecret,
	}
}

func (f *Flutterwave) Name() string { return flutterwaveName }

type flwEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flwTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (f *Flutterwave) VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)

	var envelope flwEnvelope
	raw, err := f.rest.do(ctx, "verify_payment", http.MethodGet, path, nil, &envelope)
	if err != nil {
		return nil, err
	}

	var tx flwTransaction
	if err := json.Unmarshal(envelope.Data, &tx); err != nil {
		return nil, &Error{Provider: flutterwaveName, Kind: ErrProvider, Msg: "decode transaction", Err: err}
	}

	return &PaymentVerification{
		Reference: tx.TxRef,
		Status:    flwPaymentStatus(tx.Status),
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Raw:       raw,
	}, nil
}

type flwTransferRequest struct {
	AccountBank   string `json:"account_bank"`
	AccountNumber string `json:"account_number"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Narration     string `json:"narration"`
	Reference     string `json:"reference"`
}

type flwTransfer struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (f *Flutterwave) ProcessWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResponse, error) {
	body := flwTransferRequest{
		AccountBank:   req.BankCode,
		AccountNumber: req.AccountNumber,
		Amount:        req.Amount.StringFixed(2),
		Currency:      "NGN",
		Narration:     req.Narration,
		Reference:     req.Reference,
	}

	var envelope flwEnvelope
	raw, err := f.rest.do(ctx, "process_withdrawal", http.MethodPost, "/transfers", body, &envelope)
	if err != nil {
		return nil, err
	}

	var transfer flwTransfer
	if err := json.Unmarshal(envelope.Data, &transfer); err != nil {
		return nil, &Error{Provider: flutterwaveName, Kind: ErrProvider, Msg: "decode transfer", Err: err}
	}

	return &WithdrawalResponse{
		ProviderReference: strconv.FormatInt(transfer.ID, 10),
		Status:            flwTransferStatus(transfer.Status),
		Raw:               raw,
	}, nil
}

func (f *Flutterwave) GetTransferStatus(ctx context.Context, providerRef string) (TransferStatus, error) {
	var envelope flwEnvelope
	_, err := f.rest.do(ctx, "transfer_status", http.MethodGet, "/transfers/"+url.PathEscape(providerRef), nil, &envelope)
	if err != nil {
		return TransferPending, err
	}

	var transfer flwTransfer
	if err := json.Unmarshal(envelope.Data, &transfer); err != nil {
		return TransferPending, &Error{Provider: flutterwaveName, Kind: ErrProvider, Msg: "decode transfer", Err: err}
	}
	return flwTransferStatus(transfer.Status), nil
}

func (f *Flutterwave) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	// The refund endpoint is keyed on the numeric transaction id, so
	// resolve the reference first.
	verification, err := f.VerifyPayment(ctx, req.PaymentReference)
	if err != nil {
		return nil, err
	}
	var tx flwTransaction
	if err := json.Unmarshal(extractData(verification.Raw), &tx); err != nil {
		return nil, &Error{Provider: flutterwaveName, Kind: ErrProvider, Msg: "decode transaction", Err: err}
	}

	body := map[string]string{"amount": req.Amount.StringFixed(2)}
	path := fmt.Sprintf("/transactions/%d/refund", tx.ID)

	var envelope flwEnvelope
	raw, err := f.rest.do(ctx, "initiate_refund", http.MethodPost, path, body, &envelope)
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(envelope.Data, &refund); err != nil {
		return nil, &Error{Provider: flutterwaveName, Kind: ErrProvider, Msg: "decode refund", Err: err}
	}

	return &RefundResponse{
		RefundReference: strconv.FormatInt(refund.ID, 10),
		Raw:             raw,
	}, nil
}

// VerifyWebhookSignature checks the verif-hash header Flutterwave sends
// with every webhook.
func (f *Flutterwave) VerifyWebhookSignature(header http.Header, _ []byte) error {
	got := header.Get("verif-hash")
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(f.webhookSecret)) != 1 {
		return &Error{Provider: flutterwaveName, Kind: ErrInvalidRequest, Msg: "webhook signature mismatch"}
	}
	return nil
}

type flwWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID       int64           `json:"id"`
		TxRef    string          `json:"tx_ref"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

func (f *Flutterwave) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload flwWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Provider: flutterwaveName, Kind: ErrInvalidRequest, Msg: "decode webhook", Err: err}
	}
	if payload.Data.TxRef == "" {
		return nil, &Error{Provider: flutterwaveName, Kind: ErrInvalidRequest, Msg: "webhook missing tx_ref"}
	}

	return &WebhookEvent{
		EventID:   strconv.FormatInt(payload.Data.ID, 10),
		EventType: payload.Event,
		Reference: payload.Data.TxRef,
		Status:    flwPaymentStatus(payload.Data.Status),
		Amount:    payload.Data.Amount,
		Currency:  payload.Data.Currency,
		Raw:       body,
	}, nil
}

func flwPaymentStatus(s string) PaymentStatus {
	switch s {
	case "successful":
		return PaymentSuccessful
	case "failed":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

func flwTransferStatus(s string) TransferStatus {
	switch s {
	case "SUCCESSFUL", "successful":
		return TransferSuccessful
	case "FAILED", "failed":
		return TransferFailed
	default:
		return TransferPending
	}
}

// extractData pulls the data object out of a stored raw envelope.
func extractData(raw json.RawMessage) json.RawMessage {
	var envelope flwEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return envelope.Data
}
