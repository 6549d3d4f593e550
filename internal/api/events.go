package api

import (
	"context"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/sentinel/pkg/resilience"
)

const defaultEventLogCapacity = 500

// EventLog keeps a rolling window of recent resilience events so the ops
// API can show what happened without an external event store. Once the
// window is full the oldest events are overwritten.
type EventLog struct {
	mu     sync.Mutex
	buf    []resilience.Event
	next   int
	filled bool
}

// NewEventLog creates an event log holding up to capacity events
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = defaultEventLogCapacity
	}
	return &EventLog{buf: make([]resilience.Event, capacity)}
}

// Run consumes the subscription until ctx is cancelled or the stream
// closes. It unsubscribes on exit.
func (l *EventLog) Run(ctx context.Context, sub *resilience.EventSubscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			l.append(event)
		}
	}
}

func (l *EventLog) append(event resilience.Event) {
	l.mu.Lock()
	l.buf[l.next] = event
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.filled = true
	}
	l.mu.Unlock()
}

// Len reports how many events are currently retained
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filled {
		return len(l.buf)
	}
	return l.next
}

// Recent returns up to limit events, newest first
func (l *EventLog) Recent(limit int) []resilience.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	events := make([]resilience.Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		events = append(events, l.buf[idx])
	}
	return events
}

// EventHandler serves the recent-events endpoint
type EventHandler struct {
	log *EventLog
}

// NewEventHandler creates a new event handler
func NewEventHandler(log *EventLog) *EventHandler {
	return &EventHandler{log: log}
}

// ListEvents returns recent events, newest first. Supports ?limit= and
// ?type= filters.
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events := h.log.Recent(limit)
	if eventType := c.Query("type"); eventType != "" {
		filtered := events[:0]
		for _, event := range events {
			if string(event.Type) == eventType {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}

	ListResponse(c, events, len(events))
}
