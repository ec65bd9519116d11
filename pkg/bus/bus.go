// Package bus is an in-process topic-keyed publish/subscribe channel.
// Handlers for a topic run serially on the publisher's goroutine in
// subscription order; a failing handler never affects its siblings or the
// publisher. There is no buffering — late subscribers miss earlier events.
package bus

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
)

// Handler consumes a published event.
type Handler func(evt events.Event)

// Bus fans events out by type to subscribed handlers.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	all      []Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe appends handler to the subscriber list for eventType.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll appends handler to the wildcard list. Wildcard handlers
// receive every published event, after the type-keyed handlers.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Unsubscribe removes the first subscription of handler for eventType.
// Handlers are matched by function identity.
func (b *Bus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := reflect.ValueOf(handler).Pointer()
	hs := b.handlers[eventType]
	for i, h := range hs {
		if reflect.ValueOf(h).Pointer() == target {
			b.handlers[eventType] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every handler subscribed to evt.Type, in
// subscription order. A panicking handler is caught and logged; delivery to
// the remaining handlers continues.
func (b *Bus) Publish(evt events.Event) {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers[evt.Type])+len(b.all))
	hs = append(hs, b.handlers[evt.Type]...)
	hs = append(hs, b.all...)
	b.mu.Unlock()

	for _, h := range hs {
		b.dispatch(evt, h)
	}
}

func (b *Bus) dispatch(evt events.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"event_type", evt.Type, "panic", r)
		}
	}()
	h(evt)
}
