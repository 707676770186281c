package engine

import (
	"context"
	"log"
	"time"

	"turnero/dispatch-service/internal/models"
)

// Reap cancels every ticket left open from a previous business day:
// anything created before local midnight of the day containing now whose
// state is not terminal. Each ticket is closed through the same
// conditional update as interactive cancellations, so a ticket an
// operator finishes mid-sweep is left alone. Running the sweep twice
// finds nothing the second time.
func (e *Engine) Reap(ctx context.Context, now time.Time) (int, error) {
	cutoff := StartOfBusinessDay(now, e.location)

	stale, err := e.store.QueryOpenBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, ticket := range stale {
		update, err := PlanTransition(ticket, models.StateCancelled, TransitionContext{Now: now})
		if err != nil {
			continue
		}
		updated, applied, err := e.store.ConditionalUpdateState(ctx, ticket.TicketID, ticket.State, models.StateCancelled, update)
		if err != nil {
			return cancelled, err
		}
		if !applied {
			log.Printf("reaper skipped ticket %s: state moved to %s", ticket.TicketID, updated.State)
			continue
		}
		e.broadcaster.Publish("ticket.cancelled", updated)
		cancelled++
	}
	return cancelled, nil
}
