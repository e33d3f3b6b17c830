package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"casino/internal/adapters/kafka"
	"casino/internal/domain/gamesession"
	"casino/pkg/logger"
)

// Topic for session lifecycle events
const TopicSessionEvents = "casino.session-events"

// SessionCreated is emitted once per successful session creation
type SessionCreated struct {
	Session   *gamesession.Session `json:"session"`
	Timestamp time.Time            `json:"timestamp"`
}

// SessionEnded is emitted once per terminal transition
type SessionEnded struct {
	Session   *gamesession.Session `json:"session"`
	State     gamesession.State    `json:"state"`
	Payout    decimal.Decimal      `json:"payout"`
	Timestamp time.Time            `json:"timestamp"`
}

// Sink receives session lifecycle notifications. Implementations must not
// block the lifecycle engine; slow transports should buffer or drop.
type Sink interface {
	SessionCreated(ctx context.Context, event SessionCreated)
	SessionEnded(ctx context.Context, event SessionEnded)
}

// KafkaSink publishes lifecycle events to Kafka as JSON
type KafkaSink struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewKafkaSink creates a kafka-backed sink
func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		log:      logger.Get().With("component", "session_events"),
	}
}

// SessionCreated publishes a creation event keyed by user id
func (s *KafkaSink) SessionCreated(ctx context.Context, event SessionCreated) {
	if err := s.producer.Publish(ctx, TopicSessionEvents, event.Session.UserID, event); err != nil {
		s.log.Errorw("Failed to publish session created event",
			"session_id", event.Session.ID,
			"error", err,
		)
	}
}

// SessionEnded publishes a termination event keyed by user id
func (s *KafkaSink) SessionEnded(ctx context.Context, event SessionEnded) {
	if err := s.producer.Publish(ctx, TopicSessionEvents, event.Session.UserID, event); err != nil {
		s.log.Errorw("Failed to publish session ended event",
			"session_id", event.Session.ID,
			"error", err,
		)
	}
}

// Event is the union delivered by ChannelSink
type Event struct {
	Created *SessionCreated
	Ended   *SessionEnded
}

// ChannelSink delivers events on an in-process buffered channel. Used by
// tests and by local wiring without Kafka; events are dropped when the
// buffer is full rather than blocking the engine.
type ChannelSink struct {
	ch  chan Event
	log *logger.Logger
}

// NewChannelSink creates a channel sink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		ch:  make(chan Event, buffer),
		log: logger.Get().With("component", "session_events"),
	}
}

// Events returns the receive side of the sink
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// SessionCreated delivers a creation event
func (s *ChannelSink) SessionCreated(_ context.Context, event SessionCreated) {
	select {
	case s.ch <- Event{Created: &event}:
	default:
		s.log.Warnw("Event buffer full, dropping session created event",
			"session_id", event.Session.ID,
		)
	}
}

// SessionEnded delivers a termination event
func (s *ChannelSink) SessionEnded(_ context.Context, event SessionEnded) {
	select {
	case s.ch <- Event{Ended: &event}:
	default:
		s.log.Warnw("Event buffer full, dropping session ended event",
			"session_id", event.Session.ID,
		)
	}
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) SessionCreated(context.Context, SessionCreated) {}
func (NopSink) SessionEnded(context.Context, SessionEnded)     {}
