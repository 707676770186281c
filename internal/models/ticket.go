package models

import "time"

type Ticket struct {
	TicketID       string     `json:"ticket_id"`
	Number         int64      `json:"number"`
	TicketTypeID   string     `json:"ticket_type_id"`
	UnitID         string     `json:"unit_id"`
	State          string     `json:"state"`
	TypeLevel      int        `json:"ticket_type_level,omitempty"`
	OperatorID     *string    `json:"operator_id,omitempty"`
	ServicePointID *string    `json:"service_point_id,omitempty"`
	Comments       string     `json:"comments,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

const (
	StateWaiting   = "waiting"
	StateServing   = "serving"
	StateDone      = "done"
	StateCancelled = "cancelled"
)

// IsTerminal reports whether a ticket in this state can never change again.
func IsTerminal(state string) bool {
	return state == StateDone || state == StateCancelled
}
