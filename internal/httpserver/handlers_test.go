package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/quotes"
	"github.com/nairabridge/server/internal/storage"
)

const testWallet = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

type fakeDeposits struct {
	recorded map[string]string
	err      error
}

func (f *fakeDeposits) HandleCngnReceived(_ context.Context, txID, hash string) error {
	if f.err != nil {
		return f.err
	}
	if f.recorded == nil {
		f.recorded = make(map[string]string)
	}
	f.recorded[txID] = hash
	return nil
}

type fakeIngestor struct {
	providers []string
	err       error
}

func (f *fakeIngestor) Ingest(_ context.Context, provider string, _ http.Header, _ []byte) error {
	f.providers = append(f.providers, provider)
	return f.err
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *fakeDeposits, *fakeIngestor) {
	t.Helper()

	store := storage.NewMemoryStore()
	quoteSvc, err := quotes.NewService(storage.NewMemoryQuoteStore(), store, config.QuotesConfig{
		TTL:          config.Duration{Duration: 3 * time.Minute},
		RateSource:   "static",
		StaticRate:   "1.00",
		FeePercent:   "0.5",
		FlatFee:      "100",
		MinAmountNGN: "1000",
		MaxAmountNGN: "5000000",
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	deposits := &fakeDeposits{}
	ingestor := &fakeIngestor{}
	cfg := &config.Config{}
	srv := New(cfg, quoteSvc, store, deposits, ingestor, zerolog.Nop())
	return srv, store, deposits, ingestor
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestQuoteToTransactionFlow(t *testing.T) {
	srv, store, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/quotes", map[string]string{
		"direction":  "onramp",
		"amount_ngn": "50000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create quote status = %d, body %s", rec.Code, rec.Body)
	}
	var quote struct {
		ID         string `json:"id"`
		FeeNGN     string `json:"fee_ngn"`
		AmountCngn string `json:"amount_cngn"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &quote); err != nil {
		t.Fatal(err)
	}
	if quote.FeeNGN != "350" {
		t.Errorf("fee = %s, want 350", quote.FeeNGN)
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/transactions", map[string]string{
		"quote_id":       quote.ID,
		"wallet_address": testWallet,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirm status = %d, body %s", rec.Code, rec.Body)
	}
	var tx struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		PaymentReference string `json:"payment_reference"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatal(err)
	}
	if tx.Status != "pending" {
		t.Errorf("status = %s, want pending", tx.Status)
	}
	if tx.PaymentReference == "" {
		t.Error("missing payment reference")
	}

	if _, err := store.FindByID(context.Background(), tx.ID); err != nil {
		t.Errorf("transaction not persisted: %v", err)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/transactions/"+tx.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestQuoteValidationMapsTo400(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/quotes", map[string]string{
		"direction":  "onramp",
		"amount_ngn": "1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != string(errors.ErrCodeInvalidAmount) {
		t.Errorf("code = %s, want invalid_amount", resp.Error.Code)
	}
}

func TestGetUnknownTransactionIs404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/transactions/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRecordDeposit(t *testing.T) {
	srv, _, deposits, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/transactions/tx-1/deposit", map[string]string{
		"tx_hash": "deadbeef",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body)
	}
	if deposits.recorded["tx-1"] != "deadbeef" {
		t.Errorf("recorded = %v", deposits.recorded)
	}
}

func TestWebhookRouting(t *testing.T) {
	srv, _, _, ingestor := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/webhooks/flutterwave", map[string]string{"event": "charge.completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ingestor.providers) != 1 || ingestor.providers[0] != "flutterwave" {
		t.Errorf("ingested providers = %v", ingestor.providers)
	}
}

func TestWebhookSignatureFailureIs401(t *testing.T) {
	srv, _, _, ingestor := newTestServer(t)
	ingestor.err = errors.New(errors.KindValidation, errors.ErrCodeInvalidSignature, "signature mismatch")

	rec := do(t, srv, http.MethodPost, "/webhooks/flutterwave", map[string]string{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
