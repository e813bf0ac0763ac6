package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nairabridge/server/internal/circuitbreaker"
	"github.com/nairabridge/server/internal/retry"
	"github.com/nairabridge/server/internal/transaction"
)

// Notifier delivers transaction status changes to the configured
// callback endpoint. Delivery is best-effort: the engines log a failed
// notification and move on, they never block a state transition on it.
type Notifier interface {
	Notify(ctx context.Context, tx *transaction.Transaction) error
}

// StatusPayload is the JSON body posted to the callback endpoint.
type StatusPayload struct {
	TransactionID string `json:"transaction_id"`
	Direction     string `json:"direction"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// HTTPNotifier posts status changes with HMAC-signed bodies and a
// bounded retry policy.
type HTTPNotifier struct {
	url      string
	secret   string
	client   *http.Client
	policy   retry.Policy
	breakers *circuitbreaker.Manager
	log      zerolog.Logger
	now      func() time.Time
}

// Config holds HTTPNotifier settings.
type Config struct {
	CallbackURL string
	Secret      string
	MaxRetries  int
	Backoff     time.Duration
}

// NewHTTPNotifier creates a notifier. breakers may be nil.
func NewHTTPNotifier(cfg Config, client *http.Client, breakers *circuitbreaker.Manager, log zerolog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:    cfg.CallbackURL,
		secret: cfg.Secret,
		client: client,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			Backoff:     []time.Duration{cfg.Backoff, 2 * cfg.Backoff, 4 * cfg.Backoff},
		},
		breakers: breakers,
		log:      log.With().Str("component", "notifier").Logger(),
		now:      time.Now,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, tx *transaction.Transaction) error {
	payload := StatusPayload{
		TransactionID: tx.ID,
		Direction:     string(tx.Direction),
		Status:        string(tx.Status),
		ErrorMessage:  tx.ErrorMessage,
		FailureReason: tx.Metadata.FailureReason,
		Timestamp:     n.now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	err = n.policy.Do(ctx, func(attempt int) error {
		return n.post(ctx, body)
	}, func(error) bool { return true })
	if err != nil {
		n.log.Warn().
			Err(err).
			Str("transaction_id", tx.ID).
			Str("status", string(tx.Status)).
			Msg("notification.delivery_failed")
		return err
	}

	n.log.Debug().
		Str("transaction_id", tx.ID).
		Str("status", string(tx.Status)).
		Msg("notification.delivered")
	return nil
}

func (n *HTTPNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bridge-Signature", n.sign(body))

	result, err := n.execute(func() (interface{}, error) {
		return n.client.Do(req)
	})
	if err != nil {
		return err
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

func (n *HTTPNotifier) execute(fn func() (interface{}, error)) (interface{}, error) {
	if n.breakers == nil {
		return fn()
	}
	return n.breakers.Execute(circuitbreaker.ServiceNotification, fn)
}

func (n *HTTPNotifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Noop discards notifications. Used when callbacks are disabled and in
// tests.
type Noop struct{}

func (Noop) Notify(context.Context, *transaction.Transaction) error { return nil }
