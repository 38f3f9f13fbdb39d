package service

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// System events
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Source events
	EventTypeSourceConnected    EventType = "source.connected"
	EventTypeSourceDisconnected EventType = "source.disconnected"

	// Presentation events, emitted from the render-owning consumer
	EventTypeOverlaysChanged        EventType = "overlay.changed"
	EventTypeCountChanged           EventType = "overlay.count"
	EventTypePrimaryDistanceChanged EventType = "overlay.distance"
	EventTypeFrameApplied           EventType = "pipeline.frame_applied"

	// Detection lifecycle
	EventTypeDetectionStarted EventType = "detection.started"
	EventTypeDetectionPaused  EventType = "detection.paused"
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	Source    string // Service that emitted the event
	Timestamp time.Time
	Data      map[string]interface{}
}

type subscription struct {
	ch    chan Event
	types map[EventType]struct{} // nil means every type
}

func (s *subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// EventBus provides inter-service communication via events. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event.
type EventBus struct {
	subs       []*subscription
	mu         sync.RWMutex
	bufferSize int
	closed     bool
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{bufferSize: bufferSize}
}

// Subscribe subscribes to events of the given types
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return eb.add(set)
}

// SubscribeAll subscribes to all events, including types published later
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.add(nil)
}

func (eb *EventBus) add(types map[EventType]struct{}) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subs = append(eb.subs, &subscription{ch: ch, types: types})
	return ch
}

// Publish publishes an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, sub := range eb.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, sub := range eb.subs {
		if sub.ch == ch {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close closes all subscriptions; later publishes are dropped
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscribeWithHandler runs handler for every matching event until ctx is
// done or the bus closes. Handler errors are passed to onErr when non-nil.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, handler EventHandler, onErr func(Event, error), types ...EventType) {
	var ch <-chan Event
	if len(types) == 0 {
		ch = eb.SubscribeAll()
	} else {
		ch = eb.Subscribe(types...)
	}
	go func() {
		defer eb.Unsubscribe(ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, event); err != nil && onErr != nil {
					onErr(event, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
