package server

import (
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/reactive"
)

// Events fans out batch events to the websocket subscribers.
// Events is the orchestrator.Notifier of the server.
type Events struct {
	o *reactive.Observable[orchestrator.Event]
}

// NewEvents creates Events with given subscriber buffer size.
func NewEvents(size int) *Events {
	return &Events{o: reactive.New[orchestrator.Event](size)}
}

// Notify publishes the event without blocking.
func (e *Events) Notify(ev orchestrator.Event) {
	e.o.Publish(ev)
}

// Subscribe subscribes to all events.
func (e *Events) Subscribe() *reactive.Subscriber[orchestrator.Event] {
	return e.o.Subscribe()
}

// Close closes all subscriptions.
func (e *Events) Close() {
	e.o.Close()
}
