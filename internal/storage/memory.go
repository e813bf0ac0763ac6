package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nairabridge/server/internal/transaction"
)

// MemoryStore is an in-memory implementation of TransactionStore and
// WebhookStore with the same conditional-update and idempotency
// semantics as the PostgreSQL stores. Used in tests and for local
// development without a database.
type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]*transaction.Transaction
	webhooks     map[string]*WebhookEvent
	webhookKeys  map[string]string // provider|provider_event_id -> event id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*transaction.Transaction),
		webhooks:     make(map[string]*WebhookEvent),
		webhookKeys:  make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	cp := *tx
	s.transactions[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) FindByPaymentReference(_ context.Context, ref string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.transactions {
		if tx.PaymentReference == ref && ref != "" {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByStatus(_ context.Context, direction transaction.Direction, status transaction.Status, limit int) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectLocked(limit, func(tx *transaction.Transaction) bool {
		return tx.Direction == direction && tx.Status == status
	}), nil
}

func (s *MemoryStore) FindPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectLocked(limit, func(tx *transaction.Transaction) bool {
		return tx.Direction == transaction.DirectionOnramp &&
			tx.Status == transaction.StatusPending &&
			tx.CreatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) FindPendingWithoutWebhook(_ context.Context, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	withWebhook := make(map[string]bool)
	for _, ev := range s.webhooks {
		if ev.Processed && ev.TransactionID != "" {
			withWebhook[ev.TransactionID] = true
		}
	}

	return s.selectLocked(limit, func(tx *transaction.Transaction) bool {
		return tx.Direction == transaction.DirectionOnramp &&
			tx.Status == transaction.StatusPending &&
			tx.CreatedAt.Before(cutoff) &&
			!withWebhook[tx.ID]
	}), nil
}

func (s *MemoryStore) selectLocked(limit int, match func(*transaction.Transaction) bool) []*transaction.Transaction {
	var out []*transaction.Transaction
	for _, tx := range s.transactions {
		if match(tx) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next transaction.Status) (bool, error) {
	if err := guardTransition(expected, next); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != expected {
		return false, nil
	}
	tx.Status = next
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) UpdateStatusWithMetadata(_ context.Context, id string, expected, next transaction.Status, patch *transaction.Metadata) (bool, error) {
	if err := guardTransition(expected, next); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != expected {
		return false, nil
	}
	tx.Status = next
	mergeMetadata(&tx.Metadata, patch)
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) MergeMetadata(_ context.Context, id string, patch *transaction.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ErrNotFound
	}
	mergeMetadata(&tx.Metadata, patch)
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateStatusWithError(_ context.Context, id string, expected, next transaction.Status, errorMsg string, patch *transaction.Metadata) (bool, error) {
	if err := guardTransition(expected, next); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != expected {
		return false, nil
	}
	tx.Status = next
	tx.ErrorMessage = errorMsg
	mergeMetadata(&tx.Metadata, patch)
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) SetBlockchainTxHash(_ context.Context, id, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.BlockchainTxHash != "" {
		return false, nil
	}
	tx.BlockchainTxHash = hash
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

// mergeMetadata applies the same top-level key overlay as the jsonb ||
// operator: keys present in the patch overwrite, everything else stays.
// omitempty on the patch struct drops untouched fields from its JSON.
func mergeMetadata(dst, patch *transaction.Metadata) {
	raw := patch.ToJSON()
	_ = json.Unmarshal(raw, dst)
}

func (s *MemoryStore) Insert(_ context.Context, ev *WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.Provider + "|" + ev.ProviderEventID
	if _, exists := s.webhookKeys[key]; exists {
		return false, nil
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	cp := *ev
	s.webhooks[ev.ID] = &cp
	s.webhookKeys[key] = ev.ID
	return true, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	ev.Processed = true
	ev.ProcessedAt = &now
	return nil
}

// MemoryQuoteStore is an in-memory QuoteStore for tests.
type MemoryQuoteStore struct {
	mu     sync.Mutex
	quotes map[string]*Quote
}

// NewMemoryQuoteStore creates an empty in-memory quote store.
func NewMemoryQuoteStore() *MemoryQuoteStore {
	return &MemoryQuoteStore{quotes: make(map[string]*Quote)}
}

func (s *MemoryQuoteStore) Create(_ context.Context, q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	cp := *q
	s.quotes[q.ID] = &cp
	return nil
}

func (s *MemoryQuoteStore) FindByID(_ context.Context, id string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryQuoteStore) Consume(_ context.Context, id string, now time.Time) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if q.ConsumedAt != nil {
		return nil, ErrQuoteConsumed
	}
	if !q.ExpiresAt.After(now) {
		return nil, ErrQuoteExpired
	}
	t := now.UTC()
	q.ConsumedAt = &t
	cp := *q
	return &cp, nil
}
