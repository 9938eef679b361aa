package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/ledger/stub"
	"sui-sniper/internal/storage"
	"sui-sniper/internal/storage/memory"
)

const testEventType = "0xtest::factory::CreatePoolEvent"

func makeEvents(n int) []domain.Event {
	events := make([]domain.Event, n)
	for i := 0; i < n; i++ {
		events[i] = domain.Event{
			ID: domain.Cursor{
				TxDigest: fmt.Sprintf("Digest%c", 'A'+i),
				EventSeq: "0",
			},
			Type:        testEventType,
			TimestampMs: int64(1700000000000 + i),
		}
	}
	return events
}

// collector is a tracker callback that records delivered events.
type collector struct {
	mu     sync.Mutex
	events []domain.Event
	calls  int
	done   chan struct{} // closed once `want` events have arrived
	want   int
	failN  int // fail the first failN calls
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) OnEvents(_ context.Context, events []domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls <= c.failN {
		return errors.New("collector: forced failure")
	}
	c.events = append(c.events, events...)
	if c.want > 0 && len(c.events) >= c.want {
		c.want = 0
		close(c.done)
	}
	return nil
}

func (c *collector) collected() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *collector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitFor(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for delivery")
	}
}

func runPoller(t *testing.T, ctx context.Context, p *Poller, trackers []Tracker) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Start(ctx, trackers) }()
	return errCh
}

func TestPoller_DeliversInOrderAndPersistsCursor(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := makeEvents(5)
	// Seed the cursor at the head so the batch counts as new.
	require.NoError(t, cursors.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))
	led.Append(testEventType, events...)

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	coll := newCollector(5)
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	waitFor(t, coll.done, 2*time.Second)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	got := coll.collected()
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, events[i].ID, e.ID, "delivery order")
	}

	cursor, err := cursors.Get(context.Background(), testEventType)
	require.NoError(t, err)
	assert.Equal(t, events[4].ID, cursor, "cursor persisted at last delivered event")
}

func TestPoller_ResumesFromPersistedCursor(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := makeEvents(6)
	led.Append(testEventType, events...)

	// Simulate a restart after the first three events were handled.
	require.NoError(t, cursors.Put(ctx, testEventType, events[2].ID))

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	coll := newCollector(3)
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	waitFor(t, coll.done, 2*time.Second)
	cancel()
	<-errCh

	got := coll.collected()
	require.Len(t, got, 3)
	assert.Equal(t, events[3].ID, got[0].ID)
	assert.Equal(t, events[5].ID, got[2].ID)
}

func TestPoller_SeedsCursorPastBacklog(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backlog := makeEvents(4)
	led.Append(testEventType, backlog...)

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	coll := newCollector(1)
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	// The backlog must be skipped; only the event appended after startup
	// may arrive.
	time.Sleep(50 * time.Millisecond)
	fresh := domain.Event{
		ID:   domain.Cursor{TxDigest: "FreshDigest", EventSeq: "0"},
		Type: testEventType,
	}
	led.Append(testEventType, fresh)

	waitFor(t, coll.done, 2*time.Second)
	cancel()
	<-errCh

	got := coll.collected()
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)
}

func TestPoller_NoCursorAdvanceOnCallbackFailure(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := makeEvents(2)
	require.NoError(t, cursors.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))
	led.Append(testEventType, events...)

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: 5 * time.Millisecond,
		MaxBackoff:       20 * time.Millisecond,
	})
	require.NoError(t, err)

	coll := newCollector(2)
	coll.failN = 2
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	waitFor(t, coll.done, 2*time.Second)
	cancel()
	<-errCh

	// Two failed deliveries of the same batch, then a successful one.
	assert.GreaterOrEqual(t, coll.callCount(), 3)
	got := coll.collected()
	require.Len(t, got, 2)
	assert.Equal(t, events[0].ID, got[0].ID)

	cursor, err := cursors.Get(context.Background(), testEventType)
	require.NoError(t, err)
	assert.Equal(t, events[1].ID, cursor)
}

func TestPoller_DrainsFullPagesImmediately(t *testing.T) {
	led := stub.NewLedger()
	led.PageSize = 2
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := makeEvents(8)
	require.NoError(t, cursors.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))
	led.Append(testEventType, events...)

	// With an interval this long, only drain mode can deliver more than one
	// page before the test deadline.
	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: time.Minute,
	})
	require.NoError(t, err)

	coll := newCollector(8)
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	waitFor(t, coll.done, 2*time.Second)
	cancel()
	<-errCh

	assert.Len(t, coll.collected(), 8)
}

func TestPoller_ConcurrencyCeiling(t *testing.T) {
	led := stub.NewLedger()
	led.QueryDelay = 10 * time.Millisecond
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const maxJobs = 2
	trackers := make([]Tracker, 8)
	for i := range trackers {
		eventType := fmt.Sprintf("0xtest::dex%d::CreatePoolEvent", i)
		trackers[i] = Tracker{
			TypeID:   eventType,
			Filter:   domain.EventFilter{MoveEventType: eventType},
			OnEvents: func(context.Context, []domain.Event) error { return nil },
		}
	}

	p, err := New(Options{
		Client:            led,
		CursorStore:       cursors,
		BasePollInterval:  time.Millisecond,
		MaxConcurrentJobs: maxJobs,
	})
	require.NoError(t, err)

	errCh := runPoller(t, ctx, p, trackers)

	time.Sleep(300 * time.Millisecond)
	cancel()
	<-errCh

	assert.LessOrEqual(t, led.MaxObservedInFlight(), int32(maxJobs))
	// Saturated ticks are skipped, not queued, so the loops keep making
	// progress anyway.
	assert.Greater(t, led.QueryCount(), int64(len(trackers)))
}

func TestPoller_HaltOnMaxErrors(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cursors.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))
	led.FailNext(testEventType, 1000)

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		MaxErrorRetries:  3,
		HaltOnMaxErrors:  true,
	})
	require.NoError(t, err)

	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: func(context.Context, []domain.Event) error { return nil },
	}})

	time.Sleep(200 * time.Millisecond)
	after := led.QueryCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, led.QueryCount(), "halted tracker must stop querying")

	stats := p.Stats()[testEventType]
	assert.Equal(t, uint(3), stats.ConsecutiveErrors)
	assert.Zero(t, stats.SuccessfulExecutions)

	cancel()
	<-errCh
}

func TestPoller_KeepsPollingPastMaxErrorsByDefault(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := makeEvents(1)
	require.NoError(t, cursors.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))
	led.Append(testEventType, events...)
	led.FailNext(testEventType, 4)

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		MaxErrorRetries:  2,
	})
	require.NoError(t, err)

	coll := newCollector(1)
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	// The retry limit is crossed and then the ledger recovers; delivery
	// must still happen.
	waitFor(t, coll.done, 2*time.Second)
	cancel()
	<-errCh

	assert.Len(t, coll.collected(), 1)
}

func TestPoller_BackoffGrowsAndCaps(t *testing.T) {
	p, err := New(Options{
		Client:           stub.NewLedger(),
		CursorStore:      memory.NewCursorStore(),
		BasePollInterval: time.Second,
		MaxBackoff:       10 * time.Second,
	})
	require.NoError(t, err)

	prev := time.Duration(0)
	for i := uint(1); i <= 4; i++ {
		d := p.backoffDelay(i)
		assert.Greater(t, d, prev, "backoff must grow with consecutive errors")
		prev = d
	}
	// 2^10 seconds would be far past the cap; jitter adds at most 20%.
	capped := p.backoffDelay(10)
	assert.LessOrEqual(t, capped, 12*time.Second)
	assert.GreaterOrEqual(t, capped, 10*time.Second)
}

func TestPoller_StatsTrackExecutions(t *testing.T) {
	led := stub.NewLedger()
	cursors := memory.NewCursorStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cursors.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: time.Millisecond,
	})
	require.NoError(t, err)

	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: func(context.Context, []domain.Event) error { return nil },
	}})

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-errCh

	stats := p.Stats()[testEventType]
	assert.Greater(t, stats.TotalExecutions, uint64(0))
	assert.Equal(t, stats.TotalExecutions, stats.SuccessfulExecutions)
	assert.False(t, stats.LastSuccessAt.IsZero())
	assert.True(t, p.Healthy())
}

func TestPoller_CursorStoreFailureDoesNotAdvance(t *testing.T) {
	led := stub.NewLedger()
	cursors := &flakyCursorStore{CursorStore: memory.NewCursorStore(), failPuts: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := makeEvents(2)
	require.NoError(t, cursors.CursorStore.Put(ctx, testEventType, domain.Cursor{TxDigest: "SeedDigest", EventSeq: "0"}))
	led.Append(testEventType, events...)

	p, err := New(Options{
		Client:           led,
		CursorStore:      cursors,
		BasePollInterval: time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	})
	require.NoError(t, err)

	coll := newCollector(0)
	errCh := runPoller(t, ctx, p, []Tracker{{
		TypeID:   testEventType,
		Filter:   domain.EventFilter{MoveEventType: testEventType},
		OnEvents: coll.OnEvents,
	}})

	// Wait until a Put finally succeeds and the cursor lands at the tail.
	require.Eventually(t, func() bool {
		cursor, getErr := cursors.Get(context.Background(), testEventType)
		return getErr == nil && cursor == events[1].ID
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-errCh

	// The batch was re-delivered for every failed persist.
	assert.GreaterOrEqual(t, coll.callCount(), 3)
}

// flakyCursorStore fails the first failPuts Put calls.
type flakyCursorStore struct {
	*memory.CursorStore
	mu       sync.Mutex
	failPuts int
}

func (s *flakyCursorStore) Put(ctx context.Context, typeID string, cursor domain.Cursor) error {
	s.mu.Lock()
	if s.failPuts > 0 {
		s.failPuts--
		s.mu.Unlock()
		return errors.New("flaky: persist failed")
	}
	s.mu.Unlock()
	return s.CursorStore.Put(ctx, typeID, cursor)
}

var _ storage.CursorStore = (*flakyCursorStore)(nil)
