package pipeline

import (
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/service"
)

// Sink receives presentation updates. All calls come from the presenter's
// goroutine.
type Sink interface {
	OverlaysChanged(changes overlay.Changes)
	CountChanged(count int)
	PrimaryDistanceChanged(distance probe.Estimate)
}

// FrameSink is optionally implemented by sinks that want every applied frame.
type FrameSink interface {
	FrameApplied(snapshot Snapshot)
}

// Sinks fans every update out to each sink in order.
type Sinks []Sink

func (s Sinks) OverlaysChanged(changes overlay.Changes) {
	for _, sink := range s {
		sink.OverlaysChanged(changes)
	}
}

func (s Sinks) CountChanged(count int) {
	for _, sink := range s {
		sink.CountChanged(count)
	}
}

func (s Sinks) PrimaryDistanceChanged(distance probe.Estimate) {
	for _, sink := range s {
		sink.PrimaryDistanceChanged(distance)
	}
}

func (s Sinks) FrameApplied(snapshot Snapshot) {
	for _, sink := range s {
		if fs, ok := sink.(FrameSink); ok {
			fs.FrameApplied(snapshot)
		}
	}
}

// SinkFuncs adapts optional callbacks to Sink; nil callbacks are skipped.
type SinkFuncs struct {
	OnOverlays func(overlay.Changes)
	OnCount    func(int)
	OnDistance func(probe.Estimate)
}

func (f SinkFuncs) OverlaysChanged(changes overlay.Changes) {
	if f.OnOverlays != nil {
		f.OnOverlays(changes)
	}
}

func (f SinkFuncs) CountChanged(count int) {
	if f.OnCount != nil {
		f.OnCount(count)
	}
}

func (f SinkFuncs) PrimaryDistanceChanged(distance probe.Estimate) {
	if f.OnDistance != nil {
		f.OnDistance(distance)
	}
}

// EventSink republishes presentation updates on the service event bus.
type EventSink struct {
	bus    *service.EventBus
	source string
}

// NewEventSink creates a sink publishing as source.
func NewEventSink(bus *service.EventBus, source string) *EventSink {
	return &EventSink{bus: bus, source: source}
}

func (e *EventSink) publish(t service.EventType, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(service.Event{Type: t, Source: e.source, Data: data})
}

func (e *EventSink) OverlaysChanged(changes overlay.Changes) {
	e.publish(service.EventTypeOverlaysChanged, map[string]interface{}{
		"added":   changes.Added,
		"updated": changes.Updated,
		"removed": changes.Removed,
	})
}

func (e *EventSink) CountChanged(count int) {
	e.publish(service.EventTypeCountChanged, map[string]interface{}{
		"count": count,
	})
}

func (e *EventSink) PrimaryDistanceChanged(distance probe.Estimate) {
	e.publish(service.EventTypePrimaryDistanceChanged, map[string]interface{}{
		"distance": distance,
	})
}

func (e *EventSink) FrameApplied(snapshot Snapshot) {
	e.publish(service.EventTypeFrameApplied, map[string]interface{}{
		"snapshot": snapshot,
	})
}
