package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a pipeline event.
type EventType string

const (
	EventThrottleRaised  EventType = "throttle.raised"
	EventThrottleCleared EventType = "throttle.cleared"
	EventItemProcessed   EventType = "item.processed"
	EventItemFailed      EventType = "item.failed"
	EventItemDeferred    EventType = "item.deferred"
	EventInstanceStarted EventType = "instance.started"
	EventInstanceStopped EventType = "instance.stopped"
	EventPhaseDrained    EventType = "phase.drained"
)

// Event is one pipeline occurrence: a worker finishing an item, the
// resource monitor raising the throttle, an instance starting up.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans events out from publishers (workers, resource monitor,
// launcher) to subscribers (metrics, the monitor view). Publishing
// never blocks a worker: the broker buffers, and a subscriber that
// stops draining loses events rather than stalling the pipeline.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish hands an event to the broker. Missing ID and timestamp are
// stamped here so publish sites can use bare literals.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
