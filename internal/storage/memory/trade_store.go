package memory

import (
	"context"
	"sort"
	"sync"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by buy digest
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if the buy digest exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.BuyDigest == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.BuyDigest]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[t.BuyDigest] = &copy
	return nil
}

// MarkClosed records the sell outcome and flips the trade to CLOSED.
func (s *TradeStore) MarkClosed(_ context.Context, buyDigest, sellDigest string, finalAmount uint64, exitReason string, closedAtMs int64) error {
	if buyDigest == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[buyDigest]
	if !exists {
		return storage.ErrNotFound
	}

	t.Status = domain.TradeStatusClosed
	t.SellDigest = sellDigest
	t.FinalAmount = finalAmount
	t.ExitReason = exitReason
	t.ClosedAtMs = closedAtMs
	return nil
}

// UpdateScamProbability stores the latest risk score for a trade.
func (s *TradeStore) UpdateScamProbability(_ context.Context, buyDigest string, score float64) error {
	if buyDigest == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[buyDigest]
	if !exists {
		return storage.ErrNotFound
	}

	t.ScamProbability = score
	return nil
}

// GetByDigest retrieves a trade by its buy digest.
func (s *TradeStore) GetByDigest(_ context.Context, buyDigest string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[buyDigest]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// GetOpen retrieves all trades with status OPEN, ordered by opened time ASC.
func (s *TradeStore) GetOpen(_ context.Context) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.Status == domain.TradeStatusOpen {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAtMs < result[j].OpenedAtMs
	})

	return result, nil
}
