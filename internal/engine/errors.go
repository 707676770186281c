package engine

import "errors"

var (
	// ErrNoTicket is the empty-queue outcome of ClaimNext, not a failure.
	ErrNoTicket = errors.New("no ticket available")

	ErrStateUnchanged    = errors.New("ticket state unchanged")
	ErrTicketClosed      = errors.New("ticket already closed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthorized      = errors.New("operator not authorized for ticket type")
)
