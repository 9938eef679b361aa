// Package ledger provides clients for querying a Sui full node.
package ledger

import (
	"context"

	"sui-sniper/internal/domain"
)

// Client is the read interface the poller and engine depend on.
type Client interface {
	// QueryEvents returns one page of events matching the filter, strictly
	// after the cursor. A zero cursor starts from the beginning (ascending)
	// or the newest event (descending).
	QueryEvents(ctx context.Context, filter domain.EventFilter, cursor domain.Cursor, limit int, descending bool) (*EventPage, error)

	// GetTransaction returns a confirmed transaction with balance changes.
	GetTransaction(ctx context.Context, digest string) (*TransactionBlock, error)
}
