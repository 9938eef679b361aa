// Package poller implements the per-event-type cursor polling loops.
//
// Each tracker gets an independent, indefinitely running loop that fetches
// events strictly after the persisted cursor, hands them to the tracker's
// callback, and persists the next cursor only after the callback succeeds.
// Delivery is therefore at-least-once and in-order per tracker.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/ledger"
	"sui-sniper/internal/observability"
	"sui-sniper/internal/storage"
)

// Default configuration values.
const (
	DefaultBasePollInterval    = 2 * time.Second
	DefaultMaxBackoff          = 60 * time.Second
	DefaultQueryTimeout        = 15 * time.Second
	DefaultMaxConcurrentJobs   = 5
	DefaultMaxErrorRetries     = 8
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultQueryLimit          = 50
)

// Options contains configuration for creating a Poller.
type Options struct {
	Client      ledger.Client
	CursorStore storage.CursorStore
	Logger      *log.Logger

	// BasePollInterval is the idle delay between iterations.
	BasePollInterval time.Duration
	// MaxBackoff caps the exponential error backoff.
	MaxBackoff time.Duration
	// QueryTimeout bounds each QueryEvents call.
	QueryTimeout time.Duration
	// MaxConcurrentJobs bounds poll cycles in flight across all trackers.
	MaxConcurrentJobs int
	// MaxErrorRetries is the consecutive-error count that triggers a hard
	// error log (and a halt when HaltOnMaxErrors is set).
	MaxErrorRetries uint
	// HaltOnMaxErrors stops a tracker's loop once MaxErrorRetries is
	// reached. Default false: keep polling with capped backoff.
	HaltOnMaxErrors bool
	// HealthCheckInterval is the cadence of the health monitor.
	HealthCheckInterval time.Duration
	// QueryLimit is the page size per QueryEvents call.
	QueryLimit int
}

// Poller owns one polling loop per tracker plus a health monitor.
type Poller struct {
	client  ledger.Client
	cursors storage.CursorStore
	logger  *log.Logger

	basePollInterval    time.Duration
	maxBackoff          time.Duration
	queryTimeout        time.Duration
	maxErrorRetries     uint
	haltOnMaxErrors     bool
	healthCheckInterval time.Duration
	queryLimit          int

	// sem is the soft admission guard; acquisition is try-only, a saturated
	// tick is skipped rather than queued.
	sem chan struct{}

	unhealthy atomic.Bool

	mu     sync.Mutex
	states map[string]*trackerState

	wg sync.WaitGroup
}

// New creates a new Poller.
func New(opts Options) (*Poller, error) {
	if opts.Client == nil {
		return nil, errors.New("poller: ledger client is required")
	}
	if opts.CursorStore == nil {
		return nil, errors.New("poller: cursor store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	basePollInterval := opts.BasePollInterval
	if basePollInterval == 0 {
		basePollInterval = DefaultBasePollInterval
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = DefaultMaxBackoff
	}
	queryTimeout := opts.QueryTimeout
	if queryTimeout == 0 {
		queryTimeout = DefaultQueryTimeout
	}
	maxConcurrentJobs := opts.MaxConcurrentJobs
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	maxErrorRetries := opts.MaxErrorRetries
	if maxErrorRetries == 0 {
		maxErrorRetries = DefaultMaxErrorRetries
	}
	healthCheckInterval := opts.HealthCheckInterval
	if healthCheckInterval == 0 {
		healthCheckInterval = DefaultHealthCheckInterval
	}
	queryLimit := opts.QueryLimit
	if queryLimit <= 0 {
		queryLimit = DefaultQueryLimit
	}

	return &Poller{
		client:              opts.Client,
		cursors:             opts.CursorStore,
		logger:              logger,
		basePollInterval:    basePollInterval,
		maxBackoff:          maxBackoff,
		queryTimeout:        queryTimeout,
		maxErrorRetries:     maxErrorRetries,
		haltOnMaxErrors:     opts.HaltOnMaxErrors,
		healthCheckInterval: healthCheckInterval,
		queryLimit:          queryLimit,
		sem:                 make(chan struct{}, maxConcurrentJobs),
		states:              make(map[string]*trackerState),
	}, nil
}

// Start initializes cursors and runs one poll loop per tracker plus the
// health monitor. It blocks until the context is cancelled and all loops
// have drained.
func (p *Poller) Start(ctx context.Context, trackers []Tracker) error {
	if len(trackers) == 0 {
		return errors.New("poller: no trackers")
	}

	for _, tr := range trackers {
		if tr.TypeID == "" || tr.OnEvents == nil {
			return fmt.Errorf("poller: tracker %q is incomplete", tr.TypeID)
		}

		st := &trackerState{tracker: tr}
		if err := p.seedCursor(ctx, st); err != nil {
			return fmt.Errorf("seed cursor for %s: %w", tr.TypeID, err)
		}

		p.mu.Lock()
		if _, exists := p.states[tr.TypeID]; exists {
			p.mu.Unlock()
			return fmt.Errorf("poller: duplicate tracker %q", tr.TypeID)
		}
		p.states[tr.TypeID] = st
		p.mu.Unlock()
	}

	p.mu.Lock()
	for _, st := range p.states {
		p.wg.Add(1)
		go p.runTracker(ctx, st)
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runHealthMonitor(ctx)

	p.logger.Printf("poller started with %d trackers", len(trackers))
	p.wg.Wait()
	return ctx.Err()
}

// seedCursor loads the persisted cursor, or seeds it to the newest event so
// the tracker only reacts to genuinely new events instead of the backlog.
func (p *Poller) seedCursor(ctx context.Context, st *trackerState) error {
	cursor, err := p.cursors.Get(ctx, st.tracker.TypeID)
	if err == nil {
		st.cursor = cursor
		p.logger.Printf("tracker %s: resuming from cursor %s", st.tracker.TypeID, cursor)
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	page, err := p.client.QueryEvents(queryCtx, st.tracker.Filter, domain.Cursor{}, 1, true)
	cancel()
	if err != nil {
		return fmt.Errorf("query newest event: %w", err)
	}

	if len(page.Events) == 0 {
		// Empty stream: start from the beginning once events appear.
		p.logger.Printf("tracker %s: no events yet, starting from stream head", st.tracker.TypeID)
		return nil
	}

	st.cursor = page.Events[0].ID
	if err := p.cursors.Put(ctx, st.tracker.TypeID, st.cursor); err != nil {
		return fmt.Errorf("persist seed cursor: %w", err)
	}
	p.logger.Printf("tracker %s: seeded cursor to %s", st.tracker.TypeID, st.cursor)
	return nil
}

// runTracker is the per-tracker loop. Iterations are strictly sequential:
// the next poll is only scheduled after the previous cycle has finished.
func (p *Poller) runTracker(ctx context.Context, st *trackerState) {
	defer p.wg.Done()

	for {
		delay := p.pollOnce(ctx, st)
		if delay < 0 {
			// Tracker halted by policy.
			return
		}

		if delay == 0 {
			// Drain mode: more pages are waiting, go again immediately.
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// pollOnce runs a single poll cycle and returns the delay before the next
// one: 0 for drain mode, negative when the tracker must halt.
func (p *Poller) pollOnce(ctx context.Context, st *trackerState) time.Duration {
	// Soft admission control: a saturated tick is a no-op, rescheduled at
	// the base interval. This guards the full node, it is not a queue.
	select {
	case p.sem <- struct{}{}:
	default:
		observability.RecordPollSkipped(st.tracker.TypeID)
		return p.idleDelay()
	}
	defer func() { <-p.sem }()

	started := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	page, err := p.client.QueryEvents(queryCtx, st.tracker.Filter, st.cursor, p.queryLimit, false)
	cancel()
	if err != nil {
		return p.failIteration(ctx, st, started, fmt.Errorf("query events: %w", err))
	}

	if len(page.Events) > 0 {
		if err := st.tracker.OnEvents(ctx, page.Events); err != nil {
			// Cursor stays put: the same batch is re-delivered next cycle.
			return p.failIteration(ctx, st, started, fmt.Errorf("callback: %w", err))
		}

		if err := p.cursors.Put(ctx, st.tracker.TypeID, page.NextCursor); err != nil {
			// Treated as an iteration failure; re-delivery is acceptable,
			// silent loss is not.
			return p.failIteration(ctx, st, started, fmt.Errorf("persist cursor: %w", err))
		}
		st.cursor = page.NextCursor

		observability.RecordEventsDelivered(st.tracker.TypeID, len(page.Events))
	}

	duration := time.Since(started)
	st.recordSuccess(duration, time.Now())
	observability.RecordPollSuccess(st.tracker.TypeID, duration.Seconds())

	if page.HasNextPage {
		return 0
	}
	return p.idleDelay()
}

// failIteration records the failure and returns the backoff delay, or a
// negative delay when the halt policy fires.
func (p *Poller) failIteration(ctx context.Context, st *trackerState, started time.Time, err error) time.Duration {
	duration := time.Since(started)
	consecutive := st.recordFailure(duration, time.Now())
	observability.RecordPollFailure(st.tracker.TypeID)

	p.logger.Printf("tracker %s: poll failed (consecutive=%d): %v", st.tracker.TypeID, consecutive, err)

	if consecutive >= p.maxErrorRetries {
		p.logger.Printf("tracker %s: ERROR: %d consecutive failures reached the retry limit", st.tracker.TypeID, consecutive)
		if p.haltOnMaxErrors {
			st.markHalted()
			p.logger.Printf("tracker %s: halted by policy", st.tracker.TypeID)
			return -1
		}
	}

	if ctx.Err() != nil {
		return p.basePollInterval
	}
	return p.backoffDelay(consecutive)
}

// idleDelay is the normal inter-poll delay: the base interval, doubled when
// the process is unhealthy, plus up to 10% jitter so trackers do not align.
func (p *Poller) idleDelay() time.Duration {
	delay := p.basePollInterval
	if p.unhealthy.Load() {
		delay *= 2
	}
	return withJitter(delay, 0.10)
}

// backoffDelay grows exponentially with the consecutive error count, capped
// at MaxBackoff, with ~20% jitter to avoid synchronized retries.
func (p *Poller) backoffDelay(consecutive uint) time.Duration {
	delay := p.basePollInterval
	for i := uint(0); i < consecutive && delay < p.maxBackoff; i++ {
		delay *= 2
	}
	if delay > p.maxBackoff {
		delay = p.maxBackoff
	}
	return withJitter(delay, 0.20)
}

func withJitter(d time.Duration, frac float64) time.Duration {
	return d + time.Duration(rand.Float64()*frac*float64(d))
}

// Stats returns a snapshot of per-tracker job stats.
func (p *Poller) Stats() map[string]JobStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]JobStats, len(p.states))
	for id, st := range p.states {
		out[id] = st.snapshot()
	}
	return out
}

// Healthy reports the process-wide health flag. The flag only paces future
// polls; it never stops polling and never drops events.
func (p *Poller) Healthy() bool {
	return !p.unhealthy.Load()
}

// runHealthMonitor periodically scans tracker stats and flips the
// process-wide health flag.
func (p *Poller) runHealthMonitor(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth(time.Now())
		}
	}
}

// checkHealth marks the process unhealthy when any tracker's success ratio
// drops below 80% or it has not succeeded within twice the check interval.
func (p *Poller) checkHealth(now time.Time) {
	unhealthy := false

	for id, stats := range p.Stats() {
		if stats.TotalExecutions == 0 {
			continue
		}
		ratio := float64(stats.SuccessfulExecutions) / float64(stats.TotalExecutions)
		if ratio < 0.8 {
			p.logger.Printf("health: tracker %s success ratio %.2f below threshold", id, ratio)
			unhealthy = true
		}
		if !stats.LastSuccessAt.IsZero() && now.Sub(stats.LastSuccessAt) > 2*p.healthCheckInterval {
			p.logger.Printf("health: tracker %s last success %s ago", id, now.Sub(stats.LastSuccessAt))
			unhealthy = true
		}
	}

	was := p.unhealthy.Swap(unhealthy)
	if was != unhealthy {
		if unhealthy {
			p.logger.Printf("health: degraded, doubling poll intervals")
		} else {
			p.logger.Printf("health: recovered")
		}
	}
	observability.SetPollerHealthy(!unhealthy)
}
