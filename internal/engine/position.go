package engine

import (
	"sui-sniper/internal/domain"
)

// State is the in-memory lifecycle state of a position.
type State string

const (
	StateEntering         State = "ENTERING"
	StateHolding          State = "HOLDING"
	StateEmergencyExiting State = "EMERGENCY_EXITING"
	StateProfitExiting    State = "PROFIT_EXITING"
	StateStopLossExiting  State = "STOP_LOSS_EXITING"
	StateForcedExiting    State = "FORCED_EXITING"
	StateClosed           State = "CLOSED"
)

// position is the mutable monitoring state of one open trade. All fields
// are guarded by the engine mutex; processing marks an evaluation or exit
// in flight so sweeps never double-process a position.
type position struct {
	trade domain.Trade
	state State

	// maxVariationSeen and stopLossLevel only ever move up.
	maxVariationSeen float64
	stopLossLevel    float64

	lastVariation float64
	lastQuote     uint64

	processing bool
}

// ratchet advances the trailing stop for a newly observed variation.
func (p *position) ratchet(variation, trailingDistance float64) {
	p.lastVariation = variation
	if variation > p.maxVariationSeen {
		p.maxVariationSeen = variation
	}
	if level := p.maxVariationSeen - trailingDistance; level > p.stopLossLevel {
		p.stopLossLevel = level
	}
}

// PositionView is a read-only snapshot of an open position.
type PositionView struct {
	BuyDigest       string
	PoolID          string
	DEX             domain.DEX
	TokenType       string
	State           State
	TokenAmount     uint64
	InitialAmount   uint64
	Variation       float64
	MaxVariation    float64
	StopLossLevel   float64
	ScamProbability float64
	OpenedAtMs      int64
}

func (p *position) view() PositionView {
	return PositionView{
		BuyDigest:       p.trade.BuyDigest,
		PoolID:          p.trade.PoolID,
		DEX:             p.trade.DEX,
		TokenType:       p.trade.TokenType,
		State:           p.state,
		TokenAmount:     p.trade.TokenAmount,
		InitialAmount:   p.trade.InitialAmount,
		Variation:       p.lastVariation,
		MaxVariation:    p.maxVariationSeen,
		StopLossLevel:   p.stopLossLevel,
		ScamProbability: p.trade.ScamProbability,
		OpenedAtMs:      p.trade.OpenedAtMs,
	}
}

const suiCoinType = "0x2::sui::SUI"

// poolFromTrade rebuilds the routing descriptor for a recovered trade.
func poolFromTrade(t domain.Trade) *domain.Pool {
	pool := &domain.Pool{
		PoolID:          t.PoolID,
		DEX:             t.DEX,
		SuiIsA:          t.SuiIsA,
		CreatedTxDigest: t.BuyDigest,
		TimestampMs:     t.OpenedAtMs,
	}
	if t.SuiIsA {
		pool.CoinTypeA = suiCoinType
		pool.CoinTypeB = t.TokenType
	} else {
		pool.CoinTypeA = t.TokenType
		pool.CoinTypeB = suiCoinType
	}
	return pool
}
