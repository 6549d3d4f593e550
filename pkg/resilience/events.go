package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an observability event published by the coordinator
type EventType string

const (
	EventOperationAttempted EventType = "operation_attempted"
	EventOperationSucceeded EventType = "operation_succeeded"
	EventOperationFailed    EventType = "operation_failed"
	EventOperationRetried   EventType = "operation_retried"
	EventOperationTimedOut  EventType = "operation_timed_out"
	EventCircuitOpened      EventType = "circuit_opened"
	EventCircuitHalfOpened  EventType = "circuit_half_opened"
	EventCircuitClosed      EventType = "circuit_closed"
	EventCircuitReset       EventType = "circuit_reset"
	EventCircuitRejected    EventType = "circuit_rejected"
	EventAlertRaised        EventType = "alert_raised"
	EventAlertAcknowledged  EventType = "alert_acknowledged"
	EventAlertResolved      EventType = "alert_resolved"
	EventStatusChanged      EventType = "status_changed"
	EventProbeCompleted     EventType = "probe_completed"
)

// Event describes one transition for logging/metrics collaborators. Payloads
// carry the operation or service name, a timestamp, and relevant counters in
// Metadata; they are safe to serialize as-is.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Operation string                 `json:"operation,omitempty"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	FromState string                 `json:"from_state,omitempty"`
	ToState   string                 `json:"to_state,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// EventSubscription is one subscriber's bounded view of the event stream.
// Events arrive on C; Unsubscribe releases the channel and must be called
// exactly once.
type EventSubscription struct {
	C <-chan Event

	id  int
	bus *EventBus
}

// Unsubscribe removes the subscription and closes its channel
func (s *EventSubscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// EventBus fans events out to subscribers over bounded channels. Publishing
// never blocks: when a subscriber's buffer is full the event is dropped for
// that subscriber and counted, so a slow consumer cannot stall the request
// path.
type EventBus struct {
	buffer  int
	dropped uint64

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBus creates an event bus whose subscriber channels hold up to
// buffer events
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{
		buffer: buffer,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber
func (b *EventBus) Subscribe() *EventSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return &EventSubscription{C: ch, id: -1, bus: b}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return &EventSubscription{C: ch, id: id, bus: b}
}

func (b *EventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber without blocking
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// Dropped returns how many events were discarded due to full subscriber buffers
func (b *EventBus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all subscriber channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
