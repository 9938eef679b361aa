package clickhouse

import (
	"context"
	"fmt"
	"time"

	"sui-sniper/internal/observability"
	"sui-sniper/internal/storage"
)

// TickStore implements storage.TickStore using ClickHouse.
// Position ticks are append-only monitoring history; MergeTree does not
// enforce uniqueness and none is needed here.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

// Insert appends a single monitoring tick.
func (s *TickStore) Insert(ctx context.Context, tick *storage.Tick) error {
	if tick == nil || tick.BuyDigest == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO position_ticks (
			buy_digest, pool_id, timestamp_ms, current_amount,
			variation, max_variation, stop_loss_level, scam_probability
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	started := time.Now()
	err := s.conn.Exec(ctx, query,
		tick.BuyDigest, tick.PoolID, uint64(tick.TimestampMs), tick.CurrentAmount,
		tick.Variation, tick.MaxVariation, tick.StopLossLevel, tick.ScamProbability,
	)
	observability.RecordDBQuery("clickhouse", "insert_tick", time.Since(started).Seconds(), err)
	if err != nil {
		return fmt.Errorf("insert position tick: %w", err)
	}
	return nil
}

// GetByDigest retrieves all ticks for a position, ordered by timestamp ASC.
func (s *TickStore) GetByDigest(ctx context.Context, buyDigest string) ([]*storage.Tick, error) {
	query := `
		SELECT buy_digest, pool_id, timestamp_ms, current_amount,
		       variation, max_variation, stop_loss_level, scam_probability
		FROM position_ticks
		WHERE buy_digest = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, buyDigest)
	if err != nil {
		return nil, fmt.Errorf("query position ticks: %w", err)
	}
	defer rows.Close()

	var result []*storage.Tick
	for rows.Next() {
		var tick storage.Tick
		var ts uint64
		err := rows.Scan(
			&tick.BuyDigest, &tick.PoolID, &ts, &tick.CurrentAmount,
			&tick.Variation, &tick.MaxVariation, &tick.StopLossLevel, &tick.ScamProbability,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position tick: %w", err)
		}
		tick.TimestampMs = int64(ts)
		result = append(result, &tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position ticks: %w", err)
	}
	return result, nil
}
