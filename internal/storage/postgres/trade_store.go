package postgres

import (
	"context"
	"fmt"
	"time"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/observability"
	"sui-sniper/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if the buy digest exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.BuyDigest == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trades (
			buy_digest, pool_id, dex, token_type, sui_is_a,
			token_amount, initial_amount, scam_probability,
			status, opened_at_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10
		)
	`

	started := time.Now()
	_, err := s.pool.Exec(ctx, query,
		t.BuyDigest, t.PoolID, string(t.DEX), t.TokenType, t.SuiIsA,
		int64(t.TokenAmount), int64(t.InitialAmount), t.ScamProbability,
		string(t.Status), t.OpenedAtMs,
	)
	observability.RecordDBQuery("postgres", "insert_trade", time.Since(started).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// MarkClosed records the sell outcome and flips the trade to CLOSED.
func (s *TradeStore) MarkClosed(ctx context.Context, buyDigest, sellDigest string, finalAmount uint64, exitReason string, closedAtMs int64) error {
	if buyDigest == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE trades
		SET status = $2, sell_digest = $3, final_amount = $4,
		    exit_reason = $5, closed_at_ms = $6
		WHERE buy_digest = $1
	`

	started := time.Now()
	tag, err := s.pool.Exec(ctx, query,
		buyDigest, string(domain.TradeStatusClosed), sellDigest,
		int64(finalAmount), exitReason, closedAtMs,
	)
	observability.RecordDBQuery("postgres", "mark_trade_closed", time.Since(started).Seconds(), err)
	if err != nil {
		return fmt.Errorf("mark trade closed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateScamProbability stores the latest risk score for a trade.
func (s *TradeStore) UpdateScamProbability(ctx context.Context, buyDigest string, score float64) error {
	if buyDigest == "" {
		return storage.ErrInvalidInput
	}

	query := `UPDATE trades SET scam_probability = $2 WHERE buy_digest = $1`

	started := time.Now()
	tag, err := s.pool.Exec(ctx, query, buyDigest, score)
	observability.RecordDBQuery("postgres", "update_scam_probability", time.Since(started).Seconds(), err)
	if err != nil {
		return fmt.Errorf("update scam probability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByDigest retrieves a trade by its buy digest.
func (s *TradeStore) GetByDigest(ctx context.Context, buyDigest string) (*domain.Trade, error) {
	query := `
		SELECT buy_digest, pool_id, dex, token_type, sui_is_a,
		       token_amount, initial_amount, scam_probability,
		       status, opened_at_ms,
		       COALESCE(sell_digest, ''), COALESCE(final_amount, 0),
		       COALESCE(exit_reason, ''), COALESCE(closed_at_ms, 0)
		FROM trades
		WHERE buy_digest = $1
	`

	started := time.Now()
	t, err := scanTrade(s.pool.QueryRow(ctx, query, buyDigest))
	observability.RecordDBQuery("postgres", "get_trade", time.Since(started).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// GetOpen retrieves all trades with status OPEN, ordered by opened time ASC.
func (s *TradeStore) GetOpen(ctx context.Context) ([]*domain.Trade, error) {
	query := `
		SELECT buy_digest, pool_id, dex, token_type, sui_is_a,
		       token_amount, initial_amount, scam_probability,
		       status, opened_at_ms,
		       COALESCE(sell_digest, ''), COALESCE(final_amount, 0),
		       COALESCE(exit_reason, ''), COALESCE(closed_at_ms, 0)
		FROM trades
		WHERE status = $1
		ORDER BY opened_at_ms ASC
	`

	started := time.Now()
	rows, err := s.pool.Query(ctx, query, string(domain.TradeStatusOpen))
	observability.RecordDBQuery("postgres", "get_open_trades", time.Since(started).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var dex, status string
	var tokenAmount, initialAmount, finalAmount int64

	err := row.Scan(
		&t.BuyDigest, &t.PoolID, &dex, &t.TokenType, &t.SuiIsA,
		&tokenAmount, &initialAmount, &t.ScamProbability,
		&status, &t.OpenedAtMs,
		&t.SellDigest, &finalAmount,
		&t.ExitReason, &t.ClosedAtMs,
	)
	if err != nil {
		return nil, err
	}

	t.DEX = domain.DEX(dex)
	t.Status = domain.TradeStatus(status)
	t.TokenAmount = uint64(tokenAmount)
	t.InitialAmount = uint64(initialAmount)
	t.FinalAmount = uint64(finalAmount)
	return &t, nil
}
