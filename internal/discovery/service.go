package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/poller"
)

var errNilHandler = errors.New("discovery: pool handler is required")

// PoolHandler receives newly discovered pools.
type PoolHandler interface {
	HandlePoolCreated(ctx context.Context, pool *domain.Pool) error
}

type registration struct {
	dex       domain.DEX
	eventType string
	parser    PoolParser
}

// Service builds poller trackers that parse pool-creation events and feed
// them to a PoolHandler.
type Service struct {
	registrations []registration
	handler       PoolHandler
	logger        *log.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Handler PoolHandler
	Logger  *log.Logger

	// DEXes limits discovery to the named exchanges. Empty means all
	// supported DEXes.
	DEXes []domain.DEX
}

// NewService creates a Service with the default parsers registered.
func NewService(opts Options) (*Service, error) {
	if opts.Handler == nil {
		return nil, errNilHandler
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	all := []registration{
		{dex: domain.DEXCetus, eventType: CetusCreatePoolEvent, parser: cetusParser{}},
		{dex: domain.DEXTurbos, eventType: TurbosPoolCreatedEvent, parser: turbosParser{}},
		{dex: domain.DEXBlueMove, eventType: BlueMoveCreatedPoolEvent, parser: blueMoveParser{}},
	}

	s := &Service{handler: opts.Handler, logger: logger}
	if len(opts.DEXes) == 0 {
		s.registrations = all
		return s, nil
	}

	wanted := make(map[domain.DEX]bool, len(opts.DEXes))
	for _, dex := range opts.DEXes {
		wanted[dex] = true
	}
	for _, reg := range all {
		if wanted[reg.dex] {
			s.registrations = append(s.registrations, reg)
		}
	}
	return s, nil
}

// Register adds a parser for a custom event type.
func (s *Service) Register(dex domain.DEX, eventType string, parser PoolParser) {
	s.registrations = append(s.registrations, registration{dex: dex, eventType: eventType, parser: parser})
}

// Trackers returns one poller tracker per registered DEX.
func (s *Service) Trackers() []poller.Tracker {
	trackers := make([]poller.Tracker, 0, len(s.registrations))
	for _, reg := range s.registrations {
		reg := reg
		trackers = append(trackers, poller.Tracker{
			TypeID: reg.eventType,
			Filter: domain.EventFilter{MoveEventType: reg.eventType},
			OnEvents: func(ctx context.Context, events []domain.Event) error {
				return s.handleBatch(ctx, reg, events)
			},
		})
	}
	return trackers
}

// EventSubscriber is a live push source of events, typically the WebSocket
// ledger client.
type EventSubscriber interface {
	SubscribeEvents(ctx context.Context, filter domain.EventFilter) (<-chan domain.Event, error)
}

// RunLive subscribes to every registered event type and feeds events to the
// handler as they arrive. It complements polling with lower latency but no
// durability: the poller's cursor remains the authoritative record, and the
// handler is expected to deduplicate pools reported by both sources. Blocks
// until the context ends.
func (s *Service) RunLive(ctx context.Context, sub EventSubscriber) error {
	var wg sync.WaitGroup
	for _, reg := range s.registrations {
		ch, err := sub.SubscribeEvents(ctx, domain.EventFilter{MoveEventType: reg.eventType})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", reg.eventType, err)
		}

		wg.Add(1)
		go func(reg registration, ch <-chan domain.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-ch:
					if !ok {
						return
					}
					if err := s.handleBatch(ctx, reg, []domain.Event{event}); err != nil {
						// Live delivery has no cursor to retry from; the
						// poller will redeliver durably.
						s.logger.Printf("discovery: live handler for %s: %v", reg.eventType, err)
					}
				}
			}
		}(reg, ch)
	}

	wg.Wait()
	return ctx.Err()
}

// handleBatch parses and forwards each event. Malformed payloads are logged
// and skipped: they stay malformed on redelivery, so failing the batch would
// wedge the cursor. Handler errors do fail the batch and trigger redelivery.
func (s *Service) handleBatch(ctx context.Context, reg registration, events []domain.Event) error {
	for _, event := range events {
		pool, err := reg.parser.ParsePool(event)
		if err != nil {
			s.logger.Printf("discovery: skipping event %s: %v", event.ID, err)
			continue
		}

		s.logger.Printf("discovery: new %s pool %s (%s)", pool.DEX, pool.PoolID, pool.TokenType())
		if err := s.handler.HandlePoolCreated(ctx, pool); err != nil {
			return err
		}
	}
	return nil
}
