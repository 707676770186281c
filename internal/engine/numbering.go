package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"turnero/dispatch-service/internal/store"
)

// Numbering hands out the next ticket number for a (unit, business day)
// scope. The store's counter increment is atomic; contention shows up as
// store.ErrConflict and is retried up to the budget.
type Numbering struct {
	store    store.TicketStore
	location *time.Location
	retries  int
}

func NewNumbering(st store.TicketStore, location *time.Location, retries int) *Numbering {
	if retries <= 0 {
		retries = 5
	}
	if location == nil {
		location = time.UTC
	}
	return &Numbering{store: st, location: location, retries: retries}
}

func (n *Numbering) Next(ctx context.Context, unitID string, now time.Time) (int64, error) {
	scope := store.CounterScope{
		UnitID:      unitID,
		BusinessDay: BusinessDay(now, n.location),
	}

	var lastErr error
	for attempt := 0; attempt < n.retries; attempt++ {
		number, err := n.store.IncrementCounter(ctx, scope)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("ticket numbering for unit %s: %w", unitID, lastErr)
}

// BusinessDay is the zone-local calendar date, formatted 2006-01-02.
// The boundary is local midnight, never UTC midnight.
func BusinessDay(now time.Time, location *time.Location) string {
	return now.In(location).Format("2006-01-02")
}

// StartOfBusinessDay is local midnight of the day containing now.
func StartOfBusinessDay(now time.Time, location *time.Location) time.Time {
	local := now.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
}
