package provider

import (
	"slices"
	"sync"
)

// Dispatcher fans auth events out to subscribers. Delivery is synchronous
// and in registration order, matching the one-execution-timeline model the
// coordinator's state machine assumes.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(Event)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[int]func(Event)),
	}
}

// Subscription is a registered event handler. Unsubscribe is idempotent.
type Subscription struct {
	once       sync.Once
	dispatcher *Dispatcher
	id         int
}

// Unsubscribe removes the handler from the dispatcher.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.dispatcher.mu.Lock()
		delete(s.dispatcher.handlers, s.id)
		s.dispatcher.mu.Unlock()
	})
}

// Subscribe registers handler and returns its subscription.
func (d *Dispatcher) Subscribe(handler func(Event)) *Subscription {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = handler
	d.mu.Unlock()

	return &Subscription{dispatcher: d, id: id}
}

// Emit delivers event to every subscriber, in registration order.
func (d *Dispatcher) Emit(event Event) {
	d.mu.Lock()
	ids := make([]int, 0, len(d.handlers))
	for id := range d.handlers {
		ids = append(ids, id)
	}
	// map iteration order is random; restore registration order
	slices.Sort(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, d.handlers[id])
	}
	d.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}
