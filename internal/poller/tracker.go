package poller

import (
	"context"
	"sync"
	"time"

	"sui-sniper/internal/domain"
)

// Tracker describes one monitored event category.
type Tracker struct {
	// TypeID is the stable identifier used as the cursor persistence key,
	// e.g. "CETUS::CreatePoolEvent".
	TypeID string

	// Filter selects the events on the full node.
	Filter domain.EventFilter

	// OnEvents is invoked with a non-empty ordered batch of newly observed
	// events. The cursor is persisted only after OnEvents returns nil, so a
	// failing callback sees the same batch again on the next iteration.
	OnEvents func(ctx context.Context, events []domain.Event) error
}

// JobStats are per-tracker aggregate counters for health reporting.
// They never gate correctness.
type JobStats struct {
	TotalExecutions        uint64
	SuccessfulExecutions   uint64
	FailedExecutions       uint64
	AverageExecutionTimeMs float64
	LastExecutionAt        time.Time
	LastSuccessAt          time.Time
	ConsecutiveErrors      uint
}

// trackerState is the mutable runtime state of one tracker. The poll loop
// owns cursor advancement; stats are shared with the health monitor and
// snapshot queries, hence the lock.
type trackerState struct {
	tracker Tracker
	cursor  domain.Cursor

	mu     sync.Mutex
	stats  JobStats
	halted bool
}

func (st *trackerState) recordSuccess(duration time.Duration, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.stats.TotalExecutions++
	st.stats.SuccessfulExecutions++
	st.stats.ConsecutiveErrors = 0
	st.stats.LastExecutionAt = now
	st.stats.LastSuccessAt = now
	st.updateAverage(duration)
}

func (st *trackerState) recordFailure(duration time.Duration, now time.Time) uint {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.stats.TotalExecutions++
	st.stats.FailedExecutions++
	st.stats.ConsecutiveErrors++
	st.stats.LastExecutionAt = now
	st.updateAverage(duration)
	return st.stats.ConsecutiveErrors
}

// updateAverage maintains a running average; callers hold st.mu.
func (st *trackerState) updateAverage(duration time.Duration) {
	ms := float64(duration.Milliseconds())
	n := float64(st.stats.TotalExecutions)
	st.stats.AverageExecutionTimeMs += (ms - st.stats.AverageExecutionTimeMs) / n
}

func (st *trackerState) snapshot() JobStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats
}

func (st *trackerState) markHalted() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.halted = true
}
