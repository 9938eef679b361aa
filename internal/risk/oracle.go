// Package risk scores tokens for scam likelihood.
package risk

import (
	"context"

	"sui-sniper/internal/domain"
)

// Oracle produces a scam probability score in [0, 100] for a pool's token.
// Higher means more likely a scam. Scores are advisory at entry and drive
// emergency exits while holding.
type Oracle interface {
	Score(ctx context.Context, pool *domain.Pool) (float64, error)
}

// Static is an Oracle that always returns a fixed score. It backs tests and
// deployments without an external scoring service.
type Static struct {
	Value float64
}

var _ Oracle = (*Static)(nil)

func (s *Static) Score(context.Context, *domain.Pool) (float64, error) {
	return s.Value, nil
}
