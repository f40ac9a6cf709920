package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher()

	var order []string
	d.Subscribe(func(Event) { order = append(order, "first") })
	d.Subscribe(func(Event) { order = append(order, "second") })

	d.Emit(Event{Type: EventSignedIn})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	sub := d.Subscribe(func(Event) { calls++ })

	d.Emit(Event{Type: EventSignedIn})
	sub.Unsubscribe()
	d.Emit(Event{Type: EventSignedIn})

	assert.Equal(t, 1, calls)

	// idempotent
	sub.Unsubscribe()
}

func TestDispatcherNoSubscribers(t *testing.T) {
	d := NewDispatcher()
	d.Emit(Event{Type: EventSignedOut}) // must not panic
}
