// Package stub provides a scripted ledger.Client for testing.
package stub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/ledger"
)

// ErrNotFound is returned when a transaction is not found.
var ErrNotFound = errors.New("not found")

// Ledger implements ledger.Client over in-memory scripted data. It also
// instruments QueryEvents so tests can assert concurrency properties.
type Ledger struct {
	mu           sync.Mutex
	events       map[string][]domain.Event // keyed by MoveEventType, ascending
	failures     map[string]int            // remaining forced failures per type
	Transactions map[string]*ledger.TransactionBlock

	// PageSize caps events per QueryEvents page. Defaults to 50.
	PageSize int

	// QueryDelay artificially slows QueryEvents to widen concurrency windows.
	QueryDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	queryCount  atomic.Int64
}

// NewLedger creates a new stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		events:       make(map[string][]domain.Event),
		failures:     make(map[string]int),
		Transactions: make(map[string]*ledger.TransactionBlock),
	}
}

// Compile-time interface check.
var _ ledger.Client = (*Ledger)(nil)

// Append adds events to the scripted stream for an event type.
func (l *Ledger) Append(eventType string, events ...domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[eventType] = append(l.events[eventType], events...)
}

// FailNext forces the next n QueryEvents calls for the type to fail.
func (l *Ledger) FailNext(eventType string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[eventType] = n
}

// MaxObservedInFlight returns the highest number of concurrent QueryEvents
// calls seen so far.
func (l *Ledger) MaxObservedInFlight() int32 {
	return l.maxInFlight.Load()
}

// QueryCount returns the total number of QueryEvents calls.
func (l *Ledger) QueryCount() int64 {
	return l.queryCount.Load()
}

// QueryEvents returns one page of scripted events strictly after the cursor.
func (l *Ledger) QueryEvents(ctx context.Context, filter domain.EventFilter, cursor domain.Cursor, limit int, descending bool) (*ledger.EventPage, error) {
	l.queryCount.Add(1)
	cur := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		max := l.maxInFlight.Load()
		if cur <= max || l.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if l.QueryDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.QueryDelay):
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if remaining := l.failures[filter.MoveEventType]; remaining > 0 {
		l.failures[filter.MoveEventType] = remaining - 1
		return nil, errors.New("stub: forced query failure")
	}

	stream := l.events[filter.MoveEventType]

	if descending {
		// Newest-first view, used for cursor seeding.
		page := &ledger.EventPage{}
		if len(stream) == 0 {
			return page, nil
		}
		n := limit
		if n <= 0 || n > len(stream) {
			n = len(stream)
		}
		for i := len(stream) - 1; i >= len(stream)-n; i-- {
			page.Events = append(page.Events, stream[i])
		}
		page.NextCursor = page.Events[len(page.Events)-1].ID
		page.HasNextPage = n < len(stream)
		return page, nil
	}

	// A cursor not present in the stream is treated as preceding it.
	start := 0
	if !cursor.IsZero() {
		for i, e := range stream {
			if e.ID == cursor {
				start = i + 1
				break
			}
		}
	}

	pageSize := l.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	end := start + pageSize
	if end > len(stream) {
		end = len(stream)
	}

	page := &ledger.EventPage{
		Events:      append([]domain.Event(nil), stream[start:end]...),
		HasNextPage: end < len(stream),
	}
	if len(page.Events) > 0 {
		page.NextCursor = page.Events[len(page.Events)-1].ID
	} else {
		page.NextCursor = cursor
	}
	return page, nil
}

// GetTransaction retrieves a scripted transaction by digest.
func (l *Ledger) GetTransaction(_ context.Context, digest string) (*ledger.TransactionBlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.Transactions[digest]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}
