package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup/pkg/constants"
)

// Broker manages event distribution to multiple subscribers.
type Broker struct {
	subscribers []Subscriber
	events      chan Event
	register    chan Subscriber
	unregister  chan Subscriber
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *zerolog.Logger) *Broker {
	return &Broker{
		subscribers: make([]Subscriber, 0),
		events:      make(chan Event, constants.ChannelBufferSize),
		// buffered so transports can subscribe before Run starts
		register:   make(chan Subscriber, 16),
		unregister: make(chan Subscriber, 16),
		logger:     logger,
	}
}

// Run starts the broker's event loop. Should be called in a goroutine.
// The broker will run until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for _, sub := range b.subscribers {
				_ = sub.Close()
			}
			b.subscribers = nil
			b.mu.Unlock()
			b.logger.Info().Msg("Event broker shut down")
			return

		case sub := <-b.register:
			b.mu.Lock()
			b.subscribers = append(b.subscribers, sub)
			n := len(b.subscribers)
			b.mu.Unlock()
			b.logger.Debug().Int("total_subscribers", n).Msg("Subscriber registered")

		case sub := <-b.unregister:
			b.mu.Lock()
			if i := slices.Index(b.subscribers, sub); i >= 0 {
				b.subscribers = slices.Delete(b.subscribers, i, i+1)
				_ = sub.Close()
			}
			n := len(b.subscribers)
			b.mu.Unlock()
			b.logger.Debug().Int("total_subscribers", n).Msg("Subscriber unregistered")

		case event := <-b.events:
			b.mu.RLock()
			subs := slices.Clone(b.subscribers)
			b.mu.RUnlock()

			// subscribers are non-blocking, so delivery keeps event order
			for _, sub := range subs {
				if err := sub.Send(event); err != nil {
					b.logger.Warn().
						Err(err).
						Str("event_type", string(event.Type)).
						Str("run_id", event.Run.ID).
						Msg("Failed to send event to subscriber")
				}
			}

			b.logger.Debug().
				Str("event_type", string(event.Type)).
				Str("run_id", event.Run.ID).
				Int("subscribers", len(subs)).
				Msg("Event broadcasted")
		}
	}
}

// Publish queues an event for all subscribers. It never blocks; when the
// queue is full the event is dropped.
func (b *Broker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case b.events <- event:
	default:
		b.logger.Warn().
			Str("event_type", string(event.Type)).
			Str("run_id", event.Run.ID).
			Msg("Event channel full, event dropped")
	}
}

// Subscribe registers a new subscriber to receive events.
func (b *Broker) Subscribe(sub Subscriber) {
	b.register <- sub
}

// Unsubscribe removes a subscriber from receiving events.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.unregister <- sub
}

// SubscriberCount returns the current number of subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
