package domain

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// Cursor points into an ordered on-chain event stream. Sui assigns one per
// event as (transaction digest, event sequence within the transaction).
// The zero value means "no cursor persisted yet".
type Cursor struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool {
	return c.TxDigest == "" && c.EventSeq == ""
}

// Validate checks that the transaction digest is well-formed base58.
func (c Cursor) Validate() error {
	if c.IsZero() {
		return nil
	}
	if _, err := base58.Decode(c.TxDigest); err != nil {
		return fmt.Errorf("cursor digest %q: %w", c.TxDigest, err)
	}
	return nil
}

func (c Cursor) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return c.TxDigest + ":" + c.EventSeq
}

// EventFilter selects events by their fully qualified Move event type,
// e.g. "0x1eab...::factory::CreatePoolEvent".
type EventFilter struct {
	MoveEventType string
}

// Event is a single on-chain event as returned by the full node. Pool and
// coin type details live in the DEX-specific Payload.
type Event struct {
	ID          Cursor
	Type        string
	Sender      string
	TimestampMs int64
	Payload     json.RawMessage
}
