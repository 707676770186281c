package broadcast

import "turnero/dispatch-service/internal/models"

// Broadcaster fans ticket-state changes out to display clients. Publish
// is best effort: it must never block a committed transition and its
// outcome is not consumed by the engine.
type Broadcaster interface {
	Publish(eventType string, ticket models.Ticket)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(string, models.Ticket) {}
