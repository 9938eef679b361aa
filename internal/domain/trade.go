package domain

// TradeStatus is the persisted lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

// Exit reason codes.
const (
	ExitReasonEmergency  = "EMERGENCY"
	ExitReasonTakeProfit = "TAKE_PROFIT"
	ExitReasonStopLoss   = "STOP_LOSS"
	ExitReasonForced     = "FORCED"
)

// Trade is the durable record of a position. The buy transaction digest is
// the primary key: it is unique per confirmed buy, so replaying an event
// batch that already produced a position is rejected by the store as a
// duplicate instead of opening the position twice.
type Trade struct {
	BuyDigest string // primary key
	PoolID    string
	DEX       DEX
	TokenType string
	SuiIsA    bool

	// Amounts come from the buy transaction's balance changes, not from the
	// pool descriptor's nominal values.
	TokenAmount   uint64 // quantity of the target token held
	InitialAmount uint64 // base asset spent, reference for variation

	ScamProbability float64
	Status          TradeStatus
	OpenedAtMs      int64

	// Exit fields, populated when Status becomes CLOSED.
	SellDigest  string
	FinalAmount uint64 // base asset received on sell
	ExitReason  string
	ClosedAtMs  int64
}

// BalanceChange is one signed balance delta from a confirmed transaction.
type BalanceChange struct {
	Owner    string
	CoinType string
	Amount   int64
}
