package eventbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/critpath/internal/domain"
)

const defaultBufferSize = 10

// Subscriber is a channel that receives events for a specific topic.
// Use a buffered channel to avoid blocking the publisher.
type Subscriber chan domain.Event

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	Publish(event domain.Event)
	Subscribe(topic string, bufferSize int) (Subscriber, error)
	Unsubscribe(topic string, sub Subscriber) error
	Stop()
}

var (
	_ EventBus              = (*SimpleEventBus)(nil)
	_ domain.EventPublisher = (*SimpleEventBus)(nil)
)

// SimpleEventBus is a basic in-memory event bus implementation using channels.
type SimpleEventBus struct {
	subscribers   map[string]map[Subscriber]struct{} // Topic to set of subscriber channels
	mu            sync.RWMutex
	stopChan      chan struct{}
	isStopped     bool
	defaultBuffer int
	dropped       map[string]int // Events dropped per topic because a buffer was full
	logger        zerolog.Logger
}

// NewSimpleEventBus creates a new SimpleEventBus. defaultBuffer applies to
// Subscribe calls that pass a non-positive size.
func NewSimpleEventBus(defaultBuffer int, logger zerolog.Logger) *SimpleEventBus {
	if defaultBuffer <= 0 {
		defaultBuffer = defaultBufferSize
	}
	return &SimpleEventBus{
		subscribers:   make(map[string]map[Subscriber]struct{}),
		stopChan:      make(chan struct{}),
		defaultBuffer: defaultBuffer,
		dropped:       make(map[string]int),
		logger:        logger.With().Str("component", "eventbus").Logger(),
	}
}

// Publish sends an event to all subscribers of the event's topic.
// Sends never block: a subscriber whose buffer is full misses the event.
func (b *SimpleEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	if b.isStopped {
		b.mu.RUnlock()
		b.logger.Debug().Str("topic", event.Topic).Msg("Event bus stopped, ignoring publish")
		return
	}

	subs := make([]Subscriber, 0, len(b.subscribers[event.Topic]))
	for sub := range b.subscribers[event.Topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	b.logger.Trace().Str("topic", event.Topic).Int("subscribers", len(subs)).Msg("Publishing event")
	for _, sub := range subs {
		select {
		case sub <- event:
		case <-b.stopChan:
			return
		default:
			b.mu.Lock()
			b.dropped[event.Topic]++
			b.mu.Unlock()
			b.logger.Warn().Str("topic", event.Topic).Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Subscribe creates a new subscriber channel for a given topic.
// bufferSize determines the capacity of the subscriber channel.
func (b *SimpleEventBus) Subscribe(topic string, bufferSize int) (Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isStopped {
		return nil, fmt.Errorf("eventbus is stopped")
	}
	if bufferSize <= 0 {
		bufferSize = b.defaultBuffer
	}

	sub := make(Subscriber, bufferSize)
	if _, found := b.subscribers[topic]; !found {
		b.subscribers[topic] = make(map[Subscriber]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes a subscriber channel from a topic. Closing the channel
// remains the subscriber's responsibility.
func (b *SimpleEventBus) Unsubscribe(topic string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, found := b.subscribers[topic]
	if !found {
		return fmt.Errorf("topic %s not found", topic)
	}
	if _, exists := subs[sub]; !exists {
		return fmt.Errorf("subscriber not found for topic %s", topic)
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
	return nil
}

// Dropped returns how many events were dropped for topic.
func (b *SimpleEventBus) Dropped(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[topic]
}

// Stop signals the event bus to stop publishing and forgets all subscribers.
func (b *SimpleEventBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isStopped {
		return
	}
	close(b.stopChan)
	b.isStopped = true
	b.subscribers = make(map[string]map[Subscriber]struct{})
	b.logger.Debug().Msg("Event bus stopped")
}
