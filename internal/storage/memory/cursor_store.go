package memory

import (
	"context"
	"sync"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu   sync.RWMutex
	data map[string]domain.Cursor
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		data: make(map[string]domain.Cursor),
	}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the persisted cursor for the event type.
func (s *CursorStore) Get(_ context.Context, typeID string) (domain.Cursor, error) {
	if typeID == "" {
		return domain.Cursor{}, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cursor, exists := s.data[typeID]
	if !exists {
		return domain.Cursor{}, storage.ErrNotFound
	}
	return cursor, nil
}

// Put saves the cursor for the event type, overwriting any previous value.
func (s *CursorStore) Put(_ context.Context, typeID string, cursor domain.Cursor) error {
	if typeID == "" {
		return storage.ErrInvalidInput
	}
	if err := cursor.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[typeID] = cursor
	return nil
}
