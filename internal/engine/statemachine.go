package engine

import (
	"time"

	"turnero/dispatch-service/internal/models"
	"turnero/dispatch-service/internal/store"
)

// TransitionContext carries the actors a transition may record on the
// ticket. OperatorID and ServicePointID are required for the move to
// serving and ignored otherwise.
type TransitionContext struct {
	OperatorID     string
	ServicePointID string
	Now            time.Time
}

// PlanTransition validates targetState against the current ticket and
// returns the column updates the transition writes. It never touches the
// ticket number.
//
// Legal moves: waiting -> serving, serving -> done, and waiting or
// serving -> cancelled. A terminal ticket rejects everything, including
// its own state, with ErrTicketClosed. Asking a live ticket for the
// state it is already in is the ErrStateUnchanged no-op signal.
func PlanTransition(current models.Ticket, targetState string, tc TransitionContext) (store.StateUpdate, error) {
	if models.IsTerminal(current.State) {
		return store.StateUpdate{}, ErrTicketClosed
	}
	if targetState == current.State {
		return store.StateUpdate{}, ErrStateUnchanged
	}

	now := tc.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch {
	case current.State == models.StateWaiting && targetState == models.StateServing:
		if tc.OperatorID == "" || tc.ServicePointID == "" {
			return store.StateUpdate{}, ErrInvalidTransition
		}
		operatorID := tc.OperatorID
		servicePointID := tc.ServicePointID
		return store.StateUpdate{
			OperatorID:     &operatorID,
			ServicePointID: &servicePointID,
			StartedAt:      &now,
		}, nil
	case current.State == models.StateServing && targetState == models.StateDone:
		return store.StateUpdate{FinishedAt: &now}, nil
	case targetState == models.StateCancelled:
		// waiting or serving; terminal states were rejected above.
		return store.StateUpdate{FinishedAt: &now}, nil
	default:
		return store.StateUpdate{}, ErrInvalidTransition
	}
}
