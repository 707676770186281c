package store

import (
	"context"
	"encoding/json"
	"time"

	"turnero/dispatch-service/internal/models"
)

type InsertTicketInput struct {
	TicketID     string
	Number       int64
	TicketTypeID string
	UnitID       string
	Comments     string
	CreatedAt    time.Time
}

// StateUpdate carries the fields a state transition writes alongside the
// new state. Nil pointers leave the column untouched.
type StateUpdate struct {
	OperatorID     *string
	ServicePointID *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// CounterScope identifies one daily numbering sequence. BusinessDay is the
// zone-local calendar date formatted as 2006-01-02.
type CounterScope struct {
	UnitID      string
	BusinessDay string
}

// TicketStore is the durable collaborator behind the dispatch engine. All
// mutations are atomic: InsertTicket and ConditionalUpdateState commit the
// ticket row and its outbox event in one transaction, and IncrementCounter
// never hands out the same number twice for a scope.
type TicketStore interface {
	InsertTicket(ctx context.Context, input InsertTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)

	// ConditionalUpdateState applies fromState -> toState only if the ticket
	// is still in fromState at commit time. The bool reports whether this
	// caller won the update; a lost race is not an error.
	ConditionalUpdateState(ctx context.Context, ticketID, fromState, toState string, update StateUpdate) (models.Ticket, bool, error)

	IncrementCounter(ctx context.Context, scope CounterScope) (int64, error)

	// QueryWaiting returns waiting tickets for the unit, restricted to the
	// given ticket types when typeIDs is non-empty.
	QueryWaiting(ctx context.Context, unitID string, typeIDs []string) ([]models.Ticket, error)

	// QueryOpenBefore returns non-terminal tickets created before cutoff.
	QueryOpenBefore(ctx context.Context, cutoff time.Time) ([]models.Ticket, error)

	// ListBoard returns waiting and serving tickets for a unit in display
	// order (ticket-type level, then number).
	ListBoard(ctx context.Context, unitID string) ([]models.Ticket, error)

	GetTicketType(ctx context.Context, ticketTypeID string) (models.TicketType, error)
	GetUnit(ctx context.Context, unitID string) (models.Unit, error)
	GetOperator(ctx context.Context, operatorID string) (models.Operator, error)

	ListOutboxEvents(ctx context.Context, unitID string, after time.Time, limit int) ([]OutboxEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	UnitID    string          `json:"unit_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
