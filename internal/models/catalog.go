package models

// TicketType is a service category. Lower level is served first.
type TicketType struct {
	TicketTypeID string `json:"ticket_type_id"`
	Name         string `json:"name"`
	Level        int    `json:"level"`
	Active       bool   `json:"active"`
}

type Unit struct {
	UnitID string `json:"unit_id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type ServicePoint struct {
	ServicePointID string `json:"service_point_id"`
	UnitID         string `json:"unit_id"`
	Name           string `json:"name"`
	Active         bool   `json:"active"`
}

// Operator is an agent assigned to a service point within a unit.
// TicketTypeIDs holds the active ticket-type assignments the operator
// may serve.
type Operator struct {
	OperatorID     string   `json:"operator_id"`
	UnitID         string   `json:"unit_id"`
	ServicePointID string   `json:"service_point_id"`
	Name           string   `json:"name"`
	Active         bool     `json:"active"`
	TicketTypeIDs  []string `json:"ticket_type_ids"`
}
