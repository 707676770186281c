package store

import "errors"

var (
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrTicketTypeNotFound   = errors.New("ticket type not found")
	ErrUnitNotFound         = errors.New("unit not found")
	ErrOperatorNotFound     = errors.New("operator not found")
	ErrServicePointNotFound = errors.New("service point not found")
	ErrConflict             = errors.New("transient conflict")
)
