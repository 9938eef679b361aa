package postgres

import (
	"context"
	"fmt"
	"time"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/observability"
	"sui-sniper/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the persisted cursor for the event type.
func (s *CursorStore) Get(ctx context.Context, typeID string) (domain.Cursor, error) {
	if typeID == "" {
		return domain.Cursor{}, storage.ErrInvalidInput
	}

	query := `
		SELECT tx_digest, event_seq
		FROM event_cursors
		WHERE type_id = $1
	`

	started := time.Now()
	var cursor domain.Cursor
	err := s.pool.QueryRow(ctx, query, typeID).Scan(&cursor.TxDigest, &cursor.EventSeq)
	observability.RecordDBQuery("postgres", "get_cursor", time.Since(started).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return domain.Cursor{}, storage.ErrNotFound
		}
		return domain.Cursor{}, fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

// Put saves the cursor for the event type, overwriting any previous value.
func (s *CursorStore) Put(ctx context.Context, typeID string, cursor domain.Cursor) error {
	if typeID == "" {
		return storage.ErrInvalidInput
	}
	if err := cursor.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO event_cursors (type_id, tx_digest, event_seq, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (type_id) DO UPDATE
		SET tx_digest = EXCLUDED.tx_digest,
		    event_seq = EXCLUDED.event_seq,
		    updated_at = now()
	`

	started := time.Now()
	_, err := s.pool.Exec(ctx, query, typeID, cursor.TxDigest, cursor.EventSeq)
	observability.RecordDBQuery("postgres", "put_cursor", time.Since(started).Seconds(), err)
	if err != nil {
		return fmt.Errorf("put cursor: %w", err)
	}
	return nil
}
