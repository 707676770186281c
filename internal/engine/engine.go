package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"turnero/dispatch-service/internal/broadcast"
	"turnero/dispatch-service/internal/models"
	"turnero/dispatch-service/internal/store"
)

// Engine implements the three dispatch operations. Atomicity is
// delegated to the store: numbering rides on an atomic counter and every
// state change is a conditional update checked at commit time.
type Engine struct {
	store            store.TicketStore
	broadcaster      broadcast.Broadcaster
	numbering        *Numbering
	location         *time.Location
	claimRetries     int
	maxCommentLength int
}

type Options struct {
	Location         *time.Location
	NumberingRetries int
	ClaimRetries     int
	MaxCommentLength int
}

func New(st store.TicketStore, broadcaster broadcast.Broadcaster, options Options) *Engine {
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	if broadcaster == nil {
		broadcaster = broadcast.Nop{}
	}
	claimRetries := options.ClaimRetries
	if claimRetries <= 0 {
		claimRetries = 25
	}
	maxComment := options.MaxCommentLength
	if maxComment <= 0 {
		maxComment = 512
	}
	return &Engine{
		store:            st,
		broadcaster:      broadcaster,
		numbering:        NewNumbering(st, location, options.NumberingRetries),
		location:         location,
		claimRetries:     claimRetries,
		maxCommentLength: maxComment,
	}
}

type CreateTicketInput struct {
	UnitID       string
	TicketTypeID string
	Comments     string
	CreatedAt    time.Time
}

func (e *Engine) CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error) {
	ticketType, err := e.store.GetTicketType(ctx, input.TicketTypeID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ticketType.Active {
		return models.Ticket{}, store.ErrTicketTypeNotFound
	}

	unit, err := e.store.GetUnit(ctx, input.UnitID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !unit.Active {
		return models.Ticket{}, store.ErrUnitNotFound
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	number, err := e.numbering.Next(ctx, unit.UnitID, createdAt)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, err := e.store.InsertTicket(ctx, store.InsertTicketInput{
		Number:       number,
		TicketTypeID: ticketType.TicketTypeID,
		UnitID:       unit.UnitID,
		Comments:     e.sanitizeComments(input.Comments),
		CreatedAt:    createdAt,
	})
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.TypeLevel = ticketType.Level

	e.broadcaster.Publish("ticket.created", ticket)
	return ticket, nil
}

// ClaimNext hands the operator the highest-priority waiting ticket they
// are authorized for. Losing the conditional update to another operator
// moves on to the next candidate; the selection is re-run until a claim
// lands, the queue is empty, or the retry budget runs out.
func (e *Engine) ClaimNext(ctx context.Context, operatorID string) (models.Ticket, error) {
	operator, err := e.store.GetOperator(ctx, operatorID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !operator.Active {
		return models.Ticket{}, store.ErrOperatorNotFound
	}
	if len(operator.TicketTypeIDs) == 0 {
		return models.Ticket{}, ErrNoTicket
	}

	attempts := 0
	for {
		candidates, err := e.store.QueryWaiting(ctx, operator.UnitID, operator.TicketTypeIDs)
		if err != nil {
			return models.Ticket{}, err
		}
		if len(candidates) == 0 {
			return models.Ticket{}, ErrNoTicket
		}

		for _, candidate := range OrderByPriority(candidates) {
			if attempts >= e.claimRetries {
				return models.Ticket{}, fmt.Errorf("claim next for operator %s: %w", operatorID, store.ErrConflict)
			}
			attempts++

			update, err := PlanTransition(candidate, models.StateServing, TransitionContext{
				OperatorID:     operator.OperatorID,
				ServicePointID: operator.ServicePointID,
				Now:            time.Now().UTC(),
			})
			if err != nil {
				continue
			}

			ticket, claimed, err := e.store.ConditionalUpdateState(ctx, candidate.TicketID, models.StateWaiting, models.StateServing, update)
			if err != nil {
				return models.Ticket{}, err
			}
			if !claimed {
				// Another operator got there first; try the next one.
				continue
			}
			ticket.TypeLevel = candidate.TypeLevel
			e.broadcaster.Publish("ticket.serving", ticket)
			return ticket, nil
		}
	}
}

type ChangeStateInput struct {
	TicketID       string
	TargetState    string
	OperatorID     string
	ServicePointID string
}

func (e *Engine) ChangeState(ctx context.Context, input ChangeStateInput) (models.Ticket, error) {
	switch input.TargetState {
	case models.StateServing, models.StateDone, models.StateCancelled:
	default:
		return models.Ticket{}, ErrInvalidTransition
	}

	ticket, err := e.store.GetTicket(ctx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}

	tc := TransitionContext{Now: time.Now().UTC()}
	if input.TargetState == models.StateServing {
		operator, err := e.store.GetOperator(ctx, input.OperatorID)
		if err != nil {
			return models.Ticket{}, err
		}
		if !operator.Active {
			return models.Ticket{}, store.ErrOperatorNotFound
		}
		if !operatorServesType(operator, ticket.TicketTypeID) {
			return models.Ticket{}, ErrUnauthorized
		}
		tc.OperatorID = operator.OperatorID
		tc.ServicePointID = operator.ServicePointID
		if input.ServicePointID != "" {
			tc.ServicePointID = input.ServicePointID
		}
	}

	for attempt := 0; attempt < e.claimRetries; attempt++ {
		update, err := PlanTransition(ticket, input.TargetState, tc)
		if err != nil {
			return models.Ticket{}, err
		}

		updated, applied, err := e.store.ConditionalUpdateState(ctx, ticket.TicketID, ticket.State, input.TargetState, update)
		if err != nil {
			return models.Ticket{}, err
		}
		if applied {
			e.broadcaster.Publish("ticket."+input.TargetState, updated)
			return updated, nil
		}
		// The ticket moved under us; re-plan from its fresh state.
		ticket = updated
	}
	return models.Ticket{}, fmt.Errorf("change state of ticket %s: %w", input.TicketID, store.ErrConflict)
}

func (e *Engine) ListWaiting(ctx context.Context, unitID string) ([]models.Ticket, error) {
	if _, err := e.store.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	return e.store.ListBoard(ctx, unitID)
}

func operatorServesType(operator models.Operator, ticketTypeID string) bool {
	for _, typeID := range operator.TicketTypeIDs {
		if typeID == ticketTypeID {
			return true
		}
	}
	return false
}

// sanitizeComments strips control characters and clamps the length, the
// same scrubbing the intake form applies. The clamp counts runes, not
// bytes, so a truncated comment stays valid UTF-8.
func (e *Engine) sanitizeComments(comments string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, comments)
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > e.maxCommentLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:e.maxCommentLength])
	}
	return cleaned
}
