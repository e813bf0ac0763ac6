package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/circuitbreaker"
	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/metrics"
)

const paystackName = "paystack"

var kobo = decimal.NewFromInt(100)

// Paystack implements Provider against the Paystack API. Amounts on
// the wire are in kobo; the conversion happens at this boundary and
// nowhere else. Webhooks are authenticated with an HMAC-SHA512 of the
// raw body.
type Paystack struct {
	rest          *restClient
	webhookSecret string
}

// NewPaystack creates a Paystack provider client.
func NewPaystack(cfg config.ProviderConfig, httpClient *http.Client, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Paystack {
	return &Paystack{
		rest: &restClient{
			name:     paystackName,
			service:  circuitbreaker.ServicePaystack,
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

func (p *Paystack) Name() string { return paystackName }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"` // kobo
	Currency  string `json:"currency"`
}

func (p *Paystack) VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)

	var envelope paystackEnvelope
	raw, err := p.rest.do(ctx, "verify_payment", http.MethodGet, path, nil, &envelope)
	if err != nil {
		return nil, err
	}

	var tx paystackTransaction
	if err := json.Unmarshal(envelope.Data, &tx); err != nil {
		return nil, &Error{Provider: paystackName, Kind: ErrProvider, Msg: "decode transaction", Err: err}
	}

	return &PaymentVerification{
		Reference: tx.Reference,
		Status:    paystackPaymentStatus(tx.Status),
		Amount:    fromKobo(tx.Amount),
		Currency:  tx.Currency,
		Raw:       raw,
	}, nil
}

type paystackRecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type paystackTransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"` // kobo
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type paystackTransfer struct {
	ID           int64  `json:"id"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

func (p *Paystack) ProcessWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResponse, error) {
	// Paystack pays out to registered recipients, so a transfer is two
	// calls: register the bank account, then move the money.
	recipientBody := paystackRecipientRequest{
		Type:          "nuban",
		Name:          req.AccountName,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		Currency:      "NGN",
	}

	var recipientEnvelope paystackEnvelope
	_, err := p.rest.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", recipientBody, &recipientEnvelope)
	if err != nil {
		return nil, err
	}

	var recipient struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(recipientEnvelope.Data, &recipient); err != nil {
		return nil, &Error{Provider: paystackName, Kind: ErrProvider, Msg: "decode recipient", Err: err}
	}

	transferBody := paystackTransferRequest{
		Source:    "balance",
		Amount:    toKobo(req.Amount),
		Recipient: recipient.RecipientCode,
		Reference: req.Reference,
		Reason:    req.Narration,
	}

	var transferEnvelope paystackEnvelope
	raw, err := p.rest.do(ctx, "process_withdrawal", http.MethodPost, "/transfer", transferBody, &transferEnvelope)
	if err != nil {
		return nil, err
	}

	var transfer paystackTransfer
	if err := json.Unmarshal(transferEnvelope.Data, &transfer); err != nil {
		return nil, &Error{Provider: paystackName, Kind: ErrProvider, Msg: "decode transfer", Err: err}
	}

	return &WithdrawalResponse{
		ProviderReference: transfer.TransferCode,
		Status:            paystackTransferStatus(transfer.Status),
		Raw:               raw,
	}, nil
}

func (p *Paystack) GetTransferStatus(ctx context.Context, providerRef string) (TransferStatus, error) {
	var envelope paystackEnvelope
	_, err := p.rest.do(ctx, "transfer_status", http.MethodGet, "/transfer/"+url.PathEscape(providerRef), nil, &envelope)
	if err != nil {
		return TransferPending, err
	}

	var transfer paystackTransfer
	if err := json.Unmarshal(envelope.Data, &transfer); err != nil {
		return TransferPending, &Error{Provider: paystackName, Kind: ErrProvider, Msg: "decode transfer", Err: err}
	}
	return paystackTransferStatus(transfer.Status), nil
}

func (p *Paystack) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	body := map[string]interface{}{
		"transaction": req.PaymentReference,
		"amount":      toKobo(req.Amount),
	}

	var envelope paystackEnvelope
	raw, err := p.rest.do(ctx, "initiate_refund", http.MethodPost, "/refund", body, &envelope)
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(envelope.Data, &refund); err != nil {
		return nil, &Error{Provider: paystackName, Kind: ErrProvider, Msg: "decode refund", Err: err}
	}

	return &RefundResponse{
		RefundReference: strconv.FormatInt(refund.ID, 10),
		Raw:             raw,
	}, nil
}

// VerifyWebhookSignature checks the x-paystack-signature header, an
// HMAC-SHA512 of the raw request body.
func (p *Paystack) VerifyWebhookSignature(header http.Header, body []byte) error {
	got := header.Get("x-paystack-signature")
	if got == "" {
		return &Error{Provider: paystackName, Kind: ErrInvalidRequest, Msg: "webhook signature missing"}
	}

	mac := hmac.New(sha512.New, []byte(p.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(got), []byte(want)) {
		return &Error{Provider: paystackName, Kind: ErrInvalidRequest, Msg: "webhook signature mismatch"}
	}
	return nil
}

type paystackWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"` // kobo
		Currency  string `json:"currency"`
	} `json:"data"`
}

func (p *Paystack) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload paystackWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Provider: paystackName, Kind: ErrInvalidRequest, Msg: "decode webhook", Err: err}
	}
	if payload.Data.Reference == "" {
		return nil, &Error{Provider: paystackName, Kind: ErrInvalidRequest, Msg: "webhook missing reference"}
	}

	return &WebhookEvent{
		EventID:   strconv.FormatInt(payload.Data.ID, 10),
		EventType: payload.Event,
		Reference: payload.Data.Reference,
		Status:    paystackPaymentStatus(payload.Data.Status),
		Amount:    fromKobo(payload.Data.Amount),
		Currency:  payload.Data.Currency,
		Raw:       body,
	}, nil
}

func paystackPaymentStatus(s string) PaymentStatus {
	switch s {
	case "success":
		return PaymentSuccessful
	case "failed", "abandoned", "reversed":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

func paystackTransferStatus(s string) TransferStatus {
	switch s {
	case "success":
		return TransferSuccessful
	case "failed", "reversed":
		return TransferFailed
	default:
		return TransferPending
	}
}

func toKobo(amount decimal.Decimal) int64 {
	return amount.Mul(kobo).Round(0).IntPart()
}

func fromKobo(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(kobo)
}
