// Package notify delivers operator notifications for trade lifecycle events.
//
// Notifications are advisory: sinks must never block or fail the trading
// core, so Notify has no error return and implementations log their own
// delivery problems.
package notify

import (
	"log"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindPositionOpened   Kind = "POSITION_OPENED"
	KindPositionClosed   Kind = "POSITION_CLOSED"
	KindEntryFailed      Kind = "ENTRY_FAILED"
	KindSellFailed       Kind = "SELL_FAILED"
	KindEmergencyTimeout Kind = "EMERGENCY_TIMEOUT"
)

// Notification describes one lifecycle event.
type Notification struct {
	Kind       Kind
	BuyDigest  string
	PoolID     string
	TokenType  string
	Message    string
	OccurredAt time.Time
}

// Sink receives notifications.
type Sink interface {
	Notify(n Notification)
}

// LogSink writes notifications to a logger.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink. A nil logger falls back to log.Default().
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// Compile-time interface check.
var _ Sink = (*LogSink)(nil)

func (s *LogSink) Notify(n Notification) {
	s.logger.Printf("[%s] pool=%s digest=%s %s", n.Kind, n.PoolID, n.BuyDigest, n.Message)
}

// MultiSink fans a notification out to several sinks.
type MultiSink []Sink

var _ Sink = (MultiSink)(nil)

func (m MultiSink) Notify(n Notification) {
	for _, s := range m {
		s.Notify(n)
	}
}
