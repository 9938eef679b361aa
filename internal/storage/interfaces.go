package storage

import (
	"context"

	"sui-sniper/internal/domain"
)

// CursorStore persists the last-processed event cursor per tracked event
// type. A tracker writes its own cursor only after the associated batch has
// been handled successfully, so a restart re-fetches from the last durable
// position instead of skipping events.
type CursorStore interface {
	// Get returns the persisted cursor for the event type.
	// Returns ErrNotFound if no cursor has been saved yet.
	Get(ctx context.Context, typeID string) (domain.Cursor, error)

	// Put saves the cursor for the event type, overwriting any previous value.
	Put(ctx context.Context, typeID string, cursor domain.Cursor) error
}

// TradeStore persists opened and closed positions.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if a trade with the
	// same buy digest already exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// MarkClosed records the sell outcome and flips the trade to CLOSED.
	// Returns ErrNotFound if no trade with the digest exists.
	MarkClosed(ctx context.Context, buyDigest string, sellDigest string, finalAmount uint64, exitReason string, closedAtMs int64) error

	// UpdateScamProbability stores the latest risk score for an open trade.
	UpdateScamProbability(ctx context.Context, buyDigest string, score float64) error

	// GetByDigest retrieves a trade by its buy digest.
	// Returns ErrNotFound if not exists.
	GetByDigest(ctx context.Context, buyDigest string) (*domain.Trade, error)

	// GetOpen retrieves all trades with status OPEN, ordered by opened time ASC.
	GetOpen(ctx context.Context) ([]*domain.Trade, error)
}

// TickStore records monitoring tick snapshots for later analysis.
// Write failures never gate the position lifecycle.
type TickStore interface {
	// Insert appends a single monitoring tick.
	Insert(ctx context.Context, tick *Tick) error
}

// Tick is one evaluated monitoring pass over an open position.
type Tick struct {
	BuyDigest       string
	PoolID          string
	TimestampMs     int64
	CurrentAmount   uint64
	Variation       float64
	MaxVariation    float64
	StopLossLevel   float64
	ScamProbability float64
}
