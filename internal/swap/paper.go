package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PaperExecutor simulates fills without touching the chain. It backs tests
// and dry-run deployments; the engine recovers fill amounts through the
// FillLookup capability since no real transaction exists to inspect.
type PaperExecutor struct {
	mu     sync.Mutex
	quotes map[string]uint64 // poolID -> SUI out for selling the full holding
	tokens map[string]uint64 // poolID -> tokens received per buy
	fills  map[string]*Fill
	seq    int

	failBuys  int
	failSells int

	// Defaults apply to pools with no scripted values, so dry-run can trade
	// pools discovered at runtime. Zero means unscripted pools error.
	DefaultTokensPerBuy uint64
	DefaultQuote        uint64
}

// NewPaperExecutor creates a PaperExecutor with no scripted pools.
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{
		quotes: make(map[string]uint64),
		tokens: make(map[string]uint64),
		fills:  make(map[string]*Fill),
	}
}

// Compile-time interface checks.
var (
	_ Executor   = (*PaperExecutor)(nil)
	_ FillLookup = (*PaperExecutor)(nil)
)

// SetTokensPerBuy scripts how many tokens a buy in the pool yields.
func (p *PaperExecutor) SetTokensPerBuy(poolID string, tokens uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[poolID] = tokens
}

// SetQuote scripts the current sell estimate for the pool.
func (p *PaperExecutor) SetQuote(poolID string, suiOut uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[poolID] = suiOut
}

// FailNextBuys forces the next n Buy calls to fail.
func (p *PaperExecutor) FailNextBuys(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failBuys = n
}

// FailNextSells forces the next n Sell calls to fail.
func (p *PaperExecutor) FailNextSells(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSells = n
}

// Fill returns the recorded fill for a paper digest.
func (p *PaperExecutor) Fill(digest string) (*Fill, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fill, ok := p.fills[digest]
	if !ok {
		return nil, false
	}
	copied := *fill
	return &copied, true
}

func (p *PaperExecutor) Buy(ctx context.Context, poolID string, amountIn uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failBuys > 0 {
		p.failBuys--
		return "", errors.New("paper: forced buy failure")
	}

	tokens, ok := p.tokens[poolID]
	if !ok {
		if p.DefaultTokensPerBuy == 0 {
			return "", fmt.Errorf("paper: pool %s not scripted", poolID)
		}
		tokens = p.DefaultTokensPerBuy
	}

	p.seq++
	digest := fmt.Sprintf("PaperBuy%d", p.seq)
	p.fills[digest] = &Fill{
		Digest:    digest,
		PoolID:    poolID,
		Side:      "buy",
		AmountIn:  amountIn,
		AmountOut: tokens,
	}
	return digest, nil
}

func (p *PaperExecutor) Sell(ctx context.Context, poolID string, quantity uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failSells > 0 {
		p.failSells--
		return "", errors.New("paper: forced sell failure")
	}

	suiOut, ok := p.quotes[poolID]
	if !ok {
		if p.DefaultQuote == 0 {
			return "", fmt.Errorf("paper: pool %s not scripted", poolID)
		}
		suiOut = p.DefaultQuote
	}

	p.seq++
	digest := fmt.Sprintf("PaperSell%d", p.seq)
	p.fills[digest] = &Fill{
		Digest:    digest,
		PoolID:    poolID,
		Side:      "sell",
		AmountIn:  quantity,
		AmountOut: suiOut,
	}
	return digest, nil
}

func (p *PaperExecutor) Quote(ctx context.Context, poolID string, _ uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	suiOut, ok := p.quotes[poolID]
	if !ok {
		if p.DefaultQuote == 0 {
			return 0, fmt.Errorf("paper: pool %s not scripted", poolID)
		}
		suiOut = p.DefaultQuote
	}
	return suiOut, nil
}
