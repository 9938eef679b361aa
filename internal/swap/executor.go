// Package swap abstracts trade execution against DEX pools.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sui-sniper/internal/domain"
)

// ErrUnsupportedDEX is returned when no executor is registered for a DEX.
var ErrUnsupportedDEX = errors.New("unsupported dex")

// Executor executes swaps against one DEX. Amounts are in base units: SUI
// amounts in MIST, token amounts in the token's smallest unit.
type Executor interface {
	// Buy spends amountIn SUI in the pool and returns the transaction
	// digest. Received token amounts are read from the transaction's
	// balance changes, not reported here.
	Buy(ctx context.Context, poolID string, amountIn uint64) (string, error)

	// Sell swaps quantity tokens back to SUI and returns the digest.
	Sell(ctx context.Context, poolID string, quantity uint64) (string, error)

	// Quote estimates the SUI received for selling quantity tokens now.
	Quote(ctx context.Context, poolID string, quantity uint64) (uint64, error)
}

// Fill records one executed paper trade.
type Fill struct {
	Digest    string
	PoolID    string
	Side      string // "buy" or "sell"
	AmountIn  uint64
	AmountOut uint64
}

// FillLookup is implemented by executors whose transactions never reach the
// chain, so fill amounts cannot be recovered from transaction inspection.
type FillLookup interface {
	Fill(digest string) (*Fill, bool)
}

// Registry routes pools to the executor for their DEX.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.DEX]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[domain.DEX]Executor),
	}
}

// Register installs the executor for a DEX, replacing any previous one.
func (r *Registry) Register(dex domain.DEX, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[dex] = exec
}

// Get returns the executor for a DEX.
func (r *Registry) Get(dex domain.DEX) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[dex]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDEX, dex)
	}
	return exec, nil
}

// DEXes returns the registered DEX identifiers.
func (r *Registry) DEXes() []domain.DEX {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DEX, 0, len(r.executors))
	for dex := range r.executors {
		out = append(out, dex)
	}
	return out
}
