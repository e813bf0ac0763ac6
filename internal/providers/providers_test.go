package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/config"
)

func testProviderConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:       baseURL,
		SecretKey:     "sk_test_secret",
		WebhookSecret: "whsec_test",
		Timeout:       config.Duration{Duration: 5 * time.Second},
	}
}

func TestRegistryFailoverOrder(t *testing.T) {
	fw := NewFlutterwave(testProviderConfig("http://x"), http.DefaultClient, nil, nil)
	ps := NewPaystack(testProviderConfig("http://x"), http.DefaultClient, nil, nil)

	registry, err := NewRegistry("flutterwave", "paystack", fw, ps)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		attempt int
		want    string
	}{
		{1, "flutterwave"},
		{2, "flutterwave"},
		{3, "paystack"},
		{4, "paystack"},
	}
	for _, tt := range tests {
		if got := registry.Select(tt.attempt).Name(); got != tt.want {
			t.Errorf("Select(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	fw := NewFlutterwave(testProviderConfig("http://x"), http.DefaultClient, nil, nil)
	if _, err := NewRegistry("stripe", "flutterwave", fw); err == nil {
		t.Error("expected error for unknown primary")
	}
}

func TestFlutterwaveVerifyPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/verify_by_reference" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("tx_ref"); got != "NGN-12345" {
			t.Errorf("tx_ref = %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_secret" {
			t.Errorf("authorization = %s", got)
		}
		w.Write([]byte(`{
			"status": "success",
			"data": {"id": 99, "tx_ref": "NGN-12345", "status": "successful", "amount": 50000, "currency": "NGN"}
		}`))
	}))
	defer server.Close()

	fw := NewFlutterwave(testProviderConfig(server.URL), server.Client(), nil, nil)
	got, err := fw.VerifyPayment(context.Background(), "NGN-12345")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if got.Status != PaymentSuccessful {
		t.Errorf("status = %s, want successful", got.Status)
	}
	if !got.Amount.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("amount = %s, want 50000", got.Amount)
	}
}

func TestFlutterwaveWebhookSignature(t *testing.T) {
	fw := NewFlutterwave(testProviderConfig("http://x"), http.DefaultClient, nil, nil)

	good := http.Header{}
	good.Set("verif-hash", "whsec_test")
	if err := fw.VerifyWebhookSignature(good, nil); err != nil {
		t.Errorf("valid hash rejected: %v", err)
	}

	bad := http.Header{}
	bad.Set("verif-hash", "wrong")
	if err := fw.VerifyWebhookSignature(bad, nil); err == nil {
		t.Error("wrong hash accepted")
	}
	if err := fw.VerifyWebhookSignature(http.Header{}, nil); err == nil {
		t.Error("missing hash accepted")
	}
}

func TestPaystackWebhookSignature(t *testing.T) {
	ps := NewPaystack(testProviderConfig("http://x"), http.DefaultClient, nil, nil)
	body := []byte(`{"event":"charge.success"}`)

	mac := hmac.New(sha512.New, []byte("whsec_test"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	good := http.Header{}
	good.Set("x-paystack-signature", sig)
	if err := ps.VerifyWebhookSignature(good, body); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	// Same signature over different content must fail.
	if err := ps.VerifyWebhookSignature(good, []byte(`{"event":"tampered"}`)); err == nil {
		t.Error("tampered body accepted")
	}
}

func TestPaystackWithdrawalTwoCallFlow(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		switch r.URL.Path {
		case "/transferrecipient":
			w.Write([]byte(`{"status": true, "data": {"recipient_code": "RCP_abc"}}`))
		case "/transfer":
			w.Write([]byte(`{"status": true, "data": {"id": 7, "transfer_code": "TRF_xyz", "status": "pending"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	ps := NewPaystack(testProviderConfig(server.URL), server.Client(), nil, nil)
	resp, err := ps.ProcessWithdrawal(context.Background(), WithdrawalRequest{
		Reference:     "wd-1",
		Amount:        decimal.NewFromInt(49650),
		AccountNumber: "0123456789",
		BankCode:      "058",
		AccountName:   "Ada Obi",
		Narration:     "cNGN withdrawal",
	})
	if err != nil {
		t.Fatalf("ProcessWithdrawal: %v", err)
	}
	if resp.ProviderReference != "TRF_xyz" {
		t.Errorf("provider reference = %s, want TRF_xyz", resp.ProviderReference)
	}
	if resp.Status != TransferPending {
		t.Errorf("status = %s, want pending", resp.Status)
	}
	if len(calls) != 2 || calls[0] != "/transferrecipient" || calls[1] != "/transfer" {
		t.Errorf("call order = %v", calls)
	}
}

func TestErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fw := NewFlutterwave(testProviderConfig(server.URL), server.Client(), nil, nil)
	_, err := fw.VerifyPayment(context.Background(), "ref")
	if err == nil {
		t.Fatal("expected error on 502")
	}
	pErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type %T, want *Error", err)
	}
	if pErr.Kind != ErrProvider {
		t.Errorf("kind = %s, want provider", pErr.Kind)
	}
	if !pErr.Recoverable() {
		t.Error("provider fault should be recoverable")
	}
}

func TestErrorKindRecoverability(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrNetwork, true},
		{ErrTimeout, true},
		{ErrProvider, true},
		{ErrInvalidRequest, false},
	}
	for _, tt := range tests {
		e := &Error{Provider: "x", Kind: tt.kind}
		if got := e.Recoverable(); got != tt.want {
			t.Errorf("%s recoverable = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestKoboConversion(t *testing.T) {
	ngn := decimal.RequireFromString("496.50")
	if got := toKobo(ngn); got != 49650 {
		t.Errorf("toKobo = %d, want 49650", got)
	}
	if got := fromKobo(49650); !got.Equal(ngn) {
		t.Errorf("fromKobo = %s, want 496.5", got)
	}
}

func TestParseWebhookNormalisation(t *testing.T) {
	fw := NewFlutterwave(testProviderConfig("http://x"), http.DefaultClient, nil, nil)
	ev, err := fw.ParseWebhook([]byte(`{
		"event": "charge.completed",
		"data": {"id": 42, "tx_ref": "NGN-12345", "status": "successful", "amount": 50000, "currency": "NGN"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventID != "42" || ev.Reference != "NGN-12345" || ev.Status != PaymentSuccessful {
		t.Errorf("unexpected event %+v", ev)
	}

	ps := NewPaystack(testProviderConfig("http://x"), http.DefaultClient, nil, nil)
	ev, err = ps.ParseWebhook([]byte(`{
		"event": "charge.success",
		"data": {"id": 77, "reference": "NGN-6789", "status": "success", "amount": 5000000, "currency": "NGN"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != PaymentSuccessful {
		t.Errorf("status = %s, want successful", ev.Status)
	}
	if !ev.Amount.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("amount = %s, want 50000 NGN from kobo", ev.Amount)
	}
}
