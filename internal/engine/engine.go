// Package engine drives the position lifecycle: entry on pool creation,
// periodic monitoring with a trailing stop, and prioritized exits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/ledger"
	"sui-sniper/internal/notify"
	"sui-sniper/internal/observability"
	"sui-sniper/internal/risk"
	"sui-sniper/internal/storage"
	"sui-sniper/internal/swap"
)

// Default configuration values.
const (
	DefaultMonitorInterval             = 5 * time.Second
	DefaultTrailingStopDistancePercent = 30.0
	DefaultProfitThresholdPercent      = 100.0
	DefaultHighScamThreshold           = 70.0
	DefaultEmergencyExitTimeout        = 15 * time.Second

	// Buy transactions take a moment to become queryable on a full node.
	entryLookupAttempts = 5
	entryLookupDelay    = 400 * time.Millisecond

	// sellTimeout bounds non-emergency sells, which run detached from the
	// sweep context.
	sellTimeout = 2 * time.Minute
)

// ErrPositionBusy is returned by ForceExit when an exit is already in flight.
var ErrPositionBusy = errors.New("position busy")

// ErrPositionNotFound is returned by ForceExit for unknown position keys.
var ErrPositionNotFound = errors.New("position not found")

// Options contains configuration for creating an Engine.
type Options struct {
	Ledger   ledger.Client
	Trades   storage.TradeStore
	Ticks    storage.TickStore // optional, monitoring snapshots
	Oracle   risk.Oracle
	Swaps    *swap.Registry
	Notifier notify.Sink
	Logger   *log.Logger

	// BuyAmount is the SUI spent (in MIST) on each new pool.
	BuyAmount uint64
	// MonitorInterval is the sweep cadence over open positions.
	MonitorInterval time.Duration
	// TrailingStopDistancePercent trails the stop loss below the peak
	// variation.
	TrailingStopDistancePercent float64
	// ProfitThresholdPercent triggers a take-profit exit.
	ProfitThresholdPercent float64
	// HighScamThreshold triggers an emergency exit when the refreshed risk
	// score crosses it.
	HighScamThreshold float64
	// EmergencyExitTimeout bounds an emergency sell; on timeout the position
	// stays held and is retried on the next sweep.
	EmergencyExitTimeout time.Duration
}

// Engine owns all open positions. Position state is only mutated under the
// engine mutex; per-position exits are serialized by the processing guard.
type Engine struct {
	ledger   ledger.Client
	trades   storage.TradeStore
	ticks    storage.TickStore
	oracle   risk.Oracle
	swaps    *swap.Registry
	notifier notify.Sink
	logger   *log.Logger

	buyAmount            uint64
	monitorInterval      time.Duration
	trailingStopDistance float64
	profitThreshold      float64
	highScamThreshold    float64
	emergencyExitTimeout time.Duration

	mu        sync.Mutex
	positions map[string]*position
	// pools records every pool an entry was attempted for. The polling and
	// live subscription sources can both report the same creation event;
	// a pool is only ever sniped once.
	pools map[string]bool

	wg sync.WaitGroup
}

// New creates a new Engine.
func New(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("engine: ledger client is required")
	}
	if opts.Trades == nil {
		return nil, errors.New("engine: trade store is required")
	}
	if opts.Oracle == nil {
		return nil, errors.New("engine: risk oracle is required")
	}
	if opts.Swaps == nil {
		return nil, errors.New("engine: swap registry is required")
	}
	if opts.BuyAmount == 0 {
		return nil, errors.New("engine: buy amount is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogSink(logger)
	}

	monitorInterval := opts.MonitorInterval
	if monitorInterval == 0 {
		monitorInterval = DefaultMonitorInterval
	}
	trailingStopDistance := opts.TrailingStopDistancePercent
	if trailingStopDistance == 0 {
		trailingStopDistance = DefaultTrailingStopDistancePercent
	}
	profitThreshold := opts.ProfitThresholdPercent
	if profitThreshold == 0 {
		profitThreshold = DefaultProfitThresholdPercent
	}
	highScamThreshold := opts.HighScamThreshold
	if highScamThreshold == 0 {
		highScamThreshold = DefaultHighScamThreshold
	}
	emergencyExitTimeout := opts.EmergencyExitTimeout
	if emergencyExitTimeout == 0 {
		emergencyExitTimeout = DefaultEmergencyExitTimeout
	}

	return &Engine{
		ledger:               opts.Ledger,
		trades:               opts.Trades,
		ticks:                opts.Ticks,
		oracle:               opts.Oracle,
		swaps:                opts.Swaps,
		notifier:             notifier,
		logger:               logger,
		buyAmount:            opts.BuyAmount,
		monitorInterval:      monitorInterval,
		trailingStopDistance: trailingStopDistance,
		profitThreshold:      profitThreshold,
		highScamThreshold:    highScamThreshold,
		emergencyExitTimeout: emergencyExitTimeout,
		positions:            make(map[string]*position),
		pools:                make(map[string]bool),
	}, nil
}

// HandlePoolCreated buys into a freshly created pool and opens a position.
// It never returns an error once a buy has been submitted: redelivering the
// triggering event batch would submit a second buy, which is worse than any
// local failure it could report. Failures are logged and notified instead.
func (e *Engine) HandlePoolCreated(ctx context.Context, pool *domain.Pool) error {
	exec, err := e.swaps.Get(pool.DEX)
	if err != nil {
		e.logger.Printf("engine: skipping pool %s: %v", pool.PoolID, err)
		return nil
	}

	e.mu.Lock()
	if e.pools[pool.PoolID] {
		e.mu.Unlock()
		e.logger.Printf("engine: pool %s already attempted, ignoring", pool.PoolID)
		return nil
	}
	e.pools[pool.PoolID] = true
	e.mu.Unlock()

	buyDigest, err := exec.Buy(ctx, pool.PoolID, e.buyAmount)
	if err != nil {
		e.logger.Printf("engine: buy failed for pool %s: %v", pool.PoolID, err)
		e.notifier.Notify(notify.Notification{
			Kind:       notify.KindEntryFailed,
			PoolID:     pool.PoolID,
			TokenType:  pool.TokenType(),
			Message:    fmt.Sprintf("buy failed: %v", err),
			OccurredAt: time.Now(),
		})
		return nil
	}

	if err := e.Enter(ctx, buyDigest, pool); err != nil {
		// Tokens are held but no position exists; this needs an operator.
		e.logger.Printf("engine: ERROR: entry failed after buy %s: %v", buyDigest, err)
		e.notifier.Notify(notify.Notification{
			Kind:       notify.KindEntryFailed,
			BuyDigest:  buyDigest,
			PoolID:     pool.PoolID,
			TokenType:  pool.TokenType(),
			Message:    fmt.Sprintf("entry failed after confirmed buy: %v", err),
			OccurredAt: time.Now(),
		})
	}
	return nil
}

// Enter opens a position for a confirmed buy: amounts come from the buy
// transaction's balance changes, the token is scored, and the trade is
// persisted with the buy digest as its dedup key. The position is tracked
// in the Entering state while the fill resolves.
func (e *Engine) Enter(ctx context.Context, buyDigest string, pool *domain.Pool) error {
	e.mu.Lock()
	if _, exists := e.positions[buyDigest]; exists {
		e.mu.Unlock()
		observability.RecordDuplicateBuy()
		e.logger.Printf("engine: buy %s already tracked, ignoring replay", buyDigest)
		return nil
	}
	pos := &position{
		trade: domain.Trade{
			BuyDigest:  buyDigest,
			PoolID:     pool.PoolID,
			DEX:        pool.DEX,
			TokenType:  pool.TokenType(),
			SuiIsA:     pool.SuiIsA,
			Status:     domain.TradeStatusOpen,
			OpenedAtMs: time.Now().UnixMilli(),
		},
		state:         StateEntering,
		stopLossLevel: -e.trailingStopDistance,
		// Keeps sweeps and ForceExit off the position until the fill is
		// resolved and the trade is persisted.
		processing: true,
	}
	e.positions[buyDigest] = pos
	e.mu.Unlock()

	spent, received, err := e.fillAmounts(ctx, buyDigest, pool)
	if err != nil {
		e.drop(buyDigest)
		return fmt.Errorf("resolve fill amounts: %w", err)
	}
	if received == 0 {
		e.drop(buyDigest)
		return fmt.Errorf("buy %s yielded no tokens", buyDigest)
	}

	score, err := e.oracle.Score(ctx, pool)
	if err != nil {
		e.logger.Printf("engine: scoring %s failed, assuming 0: %v", pool.TokenType(), err)
		score = 0
	}

	e.mu.Lock()
	pos.trade.TokenAmount = received
	pos.trade.InitialAmount = spent
	pos.trade.ScamProbability = score
	trade := pos.trade
	e.mu.Unlock()

	if err := e.trades.Insert(ctx, &trade); err != nil {
		e.drop(buyDigest)
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordDuplicateBuy()
			e.logger.Printf("engine: buy %s already recorded, ignoring replay", buyDigest)
			return nil
		}
		return fmt.Errorf("persist trade: %w", err)
	}

	e.mu.Lock()
	pos.state = StateHolding
	pos.processing = false
	open := len(e.positions)
	e.mu.Unlock()

	observability.RecordPositionOpened(open)
	e.logger.Printf("engine: opened position %s in pool %s (spent=%d received=%d score=%.1f)",
		buyDigest, pool.PoolID, spent, received, score)
	e.notifier.Notify(notify.Notification{
		Kind:       notify.KindPositionOpened,
		BuyDigest:  buyDigest,
		PoolID:     pool.PoolID,
		TokenType:  trade.TokenType,
		Message:    fmt.Sprintf("spent %d MIST for %d tokens, score %.1f", spent, received, score),
		OccurredAt: time.Now(),
	})
	return nil
}

// fillAmounts resolves SUI spent and tokens received for a buy. Paper fills
// are looked up on the executor; chain fills come from the transaction's
// balance changes, retried briefly to absorb full-node indexing lag.
func (e *Engine) fillAmounts(ctx context.Context, buyDigest string, pool *domain.Pool) (spent, received uint64, err error) {
	if exec, execErr := e.swaps.Get(pool.DEX); execErr == nil {
		if lookup, ok := exec.(swap.FillLookup); ok {
			if fill, found := lookup.Fill(buyDigest); found {
				return fill.AmountIn, fill.AmountOut, nil
			}
		}
	}

	var tx *ledger.TransactionBlock
	for attempt := 0; attempt < entryLookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, 0, ctx.Err()
			case <-time.After(entryLookupDelay):
			}
		}

		tx, err = e.ledger.GetTransaction(ctx, buyDigest)
		if err == nil && tx != nil {
			break
		}
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get transaction %s: %w", buyDigest, err)
	}
	if tx == nil {
		return 0, 0, fmt.Errorf("transaction %s not found", buyDigest)
	}

	tokenType := pool.TokenType()
	for _, change := range tx.BalanceChanges {
		switch {
		case isSUIType(change.CoinType) && change.Amount < 0:
			spent += uint64(-change.Amount)
		case change.CoinType == tokenType && change.Amount > 0:
			received += uint64(change.Amount)
		}
	}
	return spent, received, nil
}

func isSUIType(coinType string) bool {
	return strings.HasSuffix(coinType, "::sui::SUI")
}

// Run recovers open positions and sweeps them until the context ends.
// In-flight exits are waited for before returning.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.recover(ctx); err != nil {
		return fmt.Errorf("recover open positions: %w", err)
	}

	ticker := time.NewTicker(e.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// recover repopulates positions from open trades. Trailing state restarts
// from the entry baseline; peaks observed before the restart are gone.
func (e *Engine) recover(ctx context.Context) error {
	trades, err := e.trades.GetOpen(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, t := range trades {
		if _, exists := e.positions[t.BuyDigest]; exists {
			continue
		}
		e.positions[t.BuyDigest] = &position{
			trade:         *t,
			state:         StateHolding,
			stopLossLevel: -e.trailingStopDistance,
		}
		e.pools[t.PoolID] = true
	}
	open := len(e.positions)
	e.mu.Unlock()

	if len(trades) > 0 {
		e.logger.Printf("engine: recovered %d open positions", len(trades))
	}
	observability.DefaultMetrics.OpenPositions.Set(float64(open))
	return nil
}

// sweep evaluates every open position not already being processed. Each
// evaluation runs in its own goroutine so one slow exit cannot starve the
// others.
func (e *Engine) sweep(ctx context.Context) {
	e.mu.Lock()
	var keys []string
	for key, pos := range e.positions {
		if !pos.processing {
			pos.processing = true
			keys = append(keys, key)
		}
	}
	e.mu.Unlock()

	for _, key := range keys {
		key := key
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.release(key)
			e.evaluate(ctx, key)
		}()
	}
}

// drop removes a position that never finished entering.
func (e *Engine) drop(key string) {
	e.mu.Lock()
	delete(e.positions, key)
	e.mu.Unlock()
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	if pos, ok := e.positions[key]; ok {
		pos.processing = false
	}
	e.mu.Unlock()
}

// evaluate runs one monitoring pass: refresh the risk score, quote the
// holding, ratchet the trailing stop, then apply exit rules in strict
// priority order: emergency, then profit, then stop loss. The emergency
// check precedes the quote and fires even when quoting fails.
func (e *Engine) evaluate(ctx context.Context, key string) {
	e.mu.Lock()
	pos, ok := e.positions[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	trade := pos.trade
	e.mu.Unlock()

	exec, err := e.swaps.Get(trade.DEX)
	if err != nil {
		e.logger.Printf("engine: position %s: %v", key, err)
		return
	}
	pool := poolFromTrade(trade)

	score := trade.ScamProbability
	if fresh, scoreErr := e.oracle.Score(ctx, pool); scoreErr == nil {
		score = fresh
		if score != trade.ScamProbability {
			if updErr := e.trades.UpdateScamProbability(ctx, key, score); updErr != nil {
				e.logger.Printf("engine: persist score for %s: %v", key, updErr)
			}
		}
	} else {
		e.logger.Printf("engine: score refresh for %s failed, using last known: %v", key, scoreErr)
	}

	// The emergency rule depends only on the score, so it runs before the
	// quote: a pool that can no longer be quoted must still be sold.
	if score > e.highScamThreshold {
		e.mu.Lock()
		pos.trade.ScamProbability = score
		e.mu.Unlock()
		e.exit(ctx, key, exec, StateEmergencyExiting, domain.ExitReasonEmergency)
		return
	}

	quote, err := exec.Quote(ctx, trade.PoolID, trade.TokenAmount)
	if err != nil {
		e.logger.Printf("engine: quote for %s failed, skipping pass: %v", key, err)
		return
	}
	if trade.InitialAmount == 0 {
		e.logger.Printf("engine: position %s has zero cost basis, skipping", key)
		return
	}
	variation := (float64(quote) - float64(trade.InitialAmount)) / float64(trade.InitialAmount) * 100

	e.mu.Lock()
	pos.trade.ScamProbability = score
	pos.lastQuote = quote
	pos.ratchet(variation, e.trailingStopDistance)
	maxVariation := pos.maxVariationSeen
	stopLossLevel := pos.stopLossLevel
	e.mu.Unlock()

	e.appendTick(ctx, &storage.Tick{
		BuyDigest:       key,
		PoolID:          trade.PoolID,
		TimestampMs:     time.Now().UnixMilli(),
		CurrentAmount:   quote,
		Variation:       variation,
		MaxVariation:    maxVariation,
		StopLossLevel:   stopLossLevel,
		ScamProbability: score,
	})

	switch {
	case variation > e.profitThreshold:
		e.exit(ctx, key, exec, StateProfitExiting, domain.ExitReasonTakeProfit)
	case variation < stopLossLevel:
		e.exit(ctx, key, exec, StateStopLossExiting, domain.ExitReasonStopLoss)
	}
}

func (e *Engine) appendTick(ctx context.Context, tick *storage.Tick) {
	if e.ticks == nil {
		return
	}
	if err := e.ticks.Insert(ctx, tick); err != nil {
		e.logger.Printf("engine: tick append for %s: %v", tick.BuyDigest, err)
	}
}

// exit sells the full holding. Success closes the trade and drops the
// position; failure reverts to Holding for the next sweep. Emergency sells
// are bounded by the emergency timeout so a hung execution cannot pin the
// position forever.
func (e *Engine) exit(ctx context.Context, key string, exec swap.Executor, exitState State, reason string) {
	e.mu.Lock()
	pos, ok := e.positions[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	pos.state = exitState
	trade := pos.trade
	lastQuote := pos.lastQuote
	e.mu.Unlock()

	// The sell and its bookkeeping are detached from the caller's context:
	// shutdown stops new sweeps, but a submitted transaction has to finish
	// or time out, never be abandoned mid-flight.
	detached := context.WithoutCancel(ctx)
	timeout := sellTimeout
	if exitState == StateEmergencyExiting {
		timeout = e.emergencyExitTimeout
	}
	sellCtx, cancel := context.WithTimeout(detached, timeout)
	defer cancel()

	sellDigest, err := exec.Sell(sellCtx, trade.PoolID, trade.TokenAmount)
	if err != nil {
		e.setState(key, StateHolding)

		if exitState == StateEmergencyExiting && errors.Is(err, context.DeadlineExceeded) {
			observability.RecordEmergencyTimeout()
			e.logger.Printf("engine: emergency sell for %s timed out, still holding", key)
			e.notifier.Notify(notify.Notification{
				Kind:       notify.KindEmergencyTimeout,
				BuyDigest:  key,
				PoolID:     trade.PoolID,
				TokenType:  trade.TokenType,
				Message:    "emergency sell timed out, will retry next sweep",
				OccurredAt: time.Now(),
			})
			return
		}

		observability.RecordSellFailure()
		e.logger.Printf("engine: sell for %s failed (%s): %v", key, reason, err)
		e.notifier.Notify(notify.Notification{
			Kind:       notify.KindSellFailed,
			BuyDigest:  key,
			PoolID:     trade.PoolID,
			TokenType:  trade.TokenType,
			Message:    fmt.Sprintf("sell failed (%s): %v", reason, err),
			OccurredAt: time.Now(),
		})
		return
	}

	finalAmount := e.sellProceeds(detached, exec, sellDigest, trade, lastQuote)

	if err := e.trades.MarkClosed(detached, key, sellDigest, finalAmount, reason, time.Now().UnixMilli()); err != nil {
		// The tokens are sold either way; keeping the position would retry
		// a sell that can no longer succeed.
		e.logger.Printf("engine: ERROR: close trade %s: %v", key, err)
	}

	e.mu.Lock()
	pos.state = StateClosed
	delete(e.positions, key)
	open := len(e.positions)
	e.mu.Unlock()

	observability.RecordPositionClosed(reason, open)
	e.logger.Printf("engine: closed position %s (%s): received %d MIST", key, reason, finalAmount)
	e.notifier.Notify(notify.Notification{
		Kind:       notify.KindPositionClosed,
		BuyDigest:  key,
		PoolID:     trade.PoolID,
		TokenType:  trade.TokenType,
		Message:    fmt.Sprintf("%s exit, received %d MIST (cost %d)", reason, finalAmount, trade.InitialAmount),
		OccurredAt: time.Now(),
	})
}

// sellProceeds resolves the SUI received by a sell, falling back to the
// last quote when the transaction cannot be inspected.
func (e *Engine) sellProceeds(ctx context.Context, exec swap.Executor, sellDigest string, trade domain.Trade, lastQuote uint64) uint64 {
	if lookup, ok := exec.(swap.FillLookup); ok {
		if fill, found := lookup.Fill(sellDigest); found {
			return fill.AmountOut
		}
	}

	tx, err := e.ledger.GetTransaction(ctx, sellDigest)
	if err != nil || tx == nil {
		e.logger.Printf("engine: sell tx %s not inspectable, recording last quote: %v", sellDigest, err)
		return lastQuote
	}

	var received uint64
	for _, change := range tx.BalanceChanges {
		if isSUIType(change.CoinType) && change.Amount > 0 {
			received += uint64(change.Amount)
		}
	}
	if received == 0 {
		return lastQuote
	}
	return received
}

func (e *Engine) setState(key string, state State) {
	e.mu.Lock()
	if pos, ok := e.positions[key]; ok {
		pos.state = state
	}
	e.mu.Unlock()
}

// ForceExit sells a position immediately, regardless of thresholds.
func (e *Engine) ForceExit(ctx context.Context, key string) error {
	e.mu.Lock()
	pos, ok := e.positions[key]
	if !ok {
		e.mu.Unlock()
		return ErrPositionNotFound
	}
	if pos.processing {
		e.mu.Unlock()
		return ErrPositionBusy
	}
	pos.processing = true
	trade := pos.trade
	e.mu.Unlock()
	defer e.release(key)

	exec, err := e.swaps.Get(trade.DEX)
	if err != nil {
		return err
	}

	e.exit(ctx, key, exec, StateForcedExiting, domain.ExitReasonForced)

	e.mu.Lock()
	_, stillOpen := e.positions[key]
	e.mu.Unlock()
	if stillOpen {
		return fmt.Errorf("force exit %s: sell failed", key)
	}
	return nil
}

// Snapshot returns read-only views of all open positions, ordered by entry
// time.
func (e *Engine) Snapshot() []PositionView {
	e.mu.Lock()
	views := make([]PositionView, 0, len(e.positions))
	for _, pos := range e.positions {
		views = append(views, pos.view())
	}
	e.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].OpenedAtMs < views[j].OpenedAtMs
	})
	return views
}
