package domain

// DEX identifies the exchange a pool belongs to. Swap execution is routed
// per DEX through the swap registry.
type DEX string

const (
	DEXCetus    DEX = "CETUS"
	DEXTurbos   DEX = "TURBOS"
	DEXBlueMove DEX = "BLUEMOVE"
)

// Pool describes a liquidity pool extracted from a pool-creation event.
type Pool struct {
	PoolID    string
	DEX       DEX
	CoinTypeA string
	CoinTypeB string
	// SuiIsA reports which side of the pair is the base asset (SUI).
	SuiIsA bool
	// CreatedTxDigest is the transaction that created the pool.
	CreatedTxDigest string
	TimestampMs     int64
}

// TokenType returns the coin type of the non-SUI side of the pool.
func (p Pool) TokenType() string {
	if p.SuiIsA {
		return p.CoinTypeB
	}
	return p.CoinTypeA
}
