package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"turnero/dispatch-service/internal/models"
	"turnero/dispatch-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = "ticket_id, number, ticket_type_id, unit_id, state, operator_id, service_point_id, comments, created_at, started_at, finished_at"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertTicket(ctx context.Context, input store.InsertTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticketID := input.TicketID
	if ticketID == "" {
		ticketID = uuid.NewString()
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, number, ticket_type_id, unit_id, state, comments, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+ticketColumns+`
	`, ticketID, input.Number, input.TicketTypeID, input.UnitID, models.StateWaiting, input.Comments, createdAt)

	var ticket models.Ticket
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ConditionalUpdateState(ctx context.Context, ticketID, fromState, toState string, update store.StateUpdate) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	sets := []string{"state = $3"}
	args := []interface{}{ticketID, fromState, toState}
	if update.OperatorID != nil {
		args = append(args, *update.OperatorID)
		sets = append(sets, fmt.Sprintf("operator_id = $%d", len(args)))
	}
	if update.ServicePointID != nil {
		args = append(args, *update.ServicePointID)
		sets = append(sets, fmt.Sprintf("service_point_id = $%d", len(args)))
	}
	if update.StartedAt != nil {
		args = append(args, *update.StartedAt)
		sets = append(sets, fmt.Sprintf("started_at = $%d", len(args)))
	}
	if update.FinishedAt != nil {
		args = append(args, *update.FinishedAt)
		sets = append(sets, fmt.Sprintf("finished_at = $%d", len(args)))
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET `+strings.Join(sets, ", ")+`
		WHERE ticket_id = $1 AND state = $2
		RETURNING `+ticketColumns+`
	`, args...)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or unknown id; report which without failing.
			current, found, loadErr := loadTicket(ctx, tx, ticketID)
			if loadErr != nil {
				err = loadErr
				return models.Ticket{}, false, err
			}
			if !found {
				err = store.ErrTicketNotFound
				return models.Ticket{}, false, err
			}
			err = tx.Commit(ctx)
			if err != nil {
				return models.Ticket{}, false, err
			}
			return current, false, nil
		}
		return models.Ticket{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket."+toState, ticket); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) IncrementCounter(ctx context.Context, scope store.CounterScope) (int64, error) {
	var next int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ticket_counters (unit_id, business_day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (unit_id, business_day)
		DO UPDATE SET next_number = ticket_counters.next_number + 1
		RETURNING next_number
	`, scope.UnitID, scope.BusinessDay)
	if err := row.Scan(&next); err != nil {
		if isTransient(err) {
			return 0, fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return 0, err
	}
	return next, nil
}

// isTransient reports whether the error is contention the caller may
// retry: serialization failure, deadlock, or a unique-key collision.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	default:
		return false
	}
}

func (s *Store) QueryWaiting(ctx context.Context, unitID string, typeIDs []string) ([]models.Ticket, error) {
	query := `
		SELECT ` + prefixedTicketColumns("t") + `, tt.level
		FROM tickets t
		JOIN ticket_types tt ON tt.ticket_type_id = t.ticket_type_id
		WHERE t.unit_id = $1 AND t.state = 'waiting'
	`
	args := []interface{}{unitID}
	if len(typeIDs) > 0 {
		query += " AND t.ticket_type_id = ANY($2)"
		args = append(args, typeIDs)
	}
	query += " ORDER BY tt.level ASC, t.number ASC"

	return s.queryTicketsWithLevel(ctx, query, args...)
}

func (s *Store) QueryOpenBefore(ctx context.Context, cutoff time.Time) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE created_at < $1 AND state NOT IN ('done', 'cancelled')
		ORDER BY created_at ASC
	`, cutoff)
}

func (s *Store) ListBoard(ctx context.Context, unitID string) ([]models.Ticket, error) {
	return s.queryTicketsWithLevel(ctx, `
		SELECT `+prefixedTicketColumns("t")+`, tt.level
		FROM tickets t
		JOIN ticket_types tt ON tt.ticket_type_id = t.ticket_type_id
		WHERE t.unit_id = $1 AND t.state IN ('waiting', 'serving')
		ORDER BY tt.level ASC, t.number ASC
	`, unitID)
}

func (s *Store) GetTicketType(ctx context.Context, ticketTypeID string) (models.TicketType, error) {
	var tt models.TicketType
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_type_id, name, level, active
		FROM ticket_types
		WHERE ticket_type_id = $1
	`, ticketTypeID)
	if err := row.Scan(&tt.TicketTypeID, &tt.Name, &tt.Level, &tt.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TicketType{}, store.ErrTicketTypeNotFound
		}
		return models.TicketType{}, err
	}
	return tt, nil
}

func (s *Store) GetUnit(ctx context.Context, unitID string) (models.Unit, error) {
	var unit models.Unit
	row := s.pool.QueryRow(ctx, `
		SELECT unit_id, code, name, active
		FROM units
		WHERE unit_id = $1
	`, unitID)
	if err := row.Scan(&unit.UnitID, &unit.Code, &unit.Name, &unit.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Unit{}, store.ErrUnitNotFound
		}
		return models.Unit{}, err
	}
	return unit, nil
}

func (s *Store) GetOperator(ctx context.Context, operatorID string) (models.Operator, error) {
	var op models.Operator
	row := s.pool.QueryRow(ctx, `
		SELECT operator_id, unit_id, service_point_id, name, active
		FROM operators
		WHERE operator_id = $1
	`, operatorID)
	if err := row.Scan(&op.OperatorID, &op.UnitID, &op.ServicePointID, &op.Name, &op.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Operator{}, store.ErrOperatorNotFound
		}
		return models.Operator{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.ticket_type_id
		FROM operator_ticket_types a
		JOIN ticket_types tt ON tt.ticket_type_id = a.ticket_type_id
		WHERE a.operator_id = $1 AND a.active = TRUE AND tt.active = TRUE
		ORDER BY tt.level ASC
	`, operatorID)
	if err != nil {
		return models.Operator{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var typeID string
		if err := rows.Scan(&typeID); err != nil {
			return models.Operator{}, err
		}
		op.TicketTypeIDs = append(op.TicketTypeIDs, typeID)
	}
	if err := rows.Err(); err != nil {
		return models.Operator{}, err
	}
	return op, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, unitID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, unit_id, type, payload_json, created_at
		FROM outbox_events
		WHERE unit_id = $1
	`
	args := []interface{}{unitID}
	if !after.IsZero() {
		query += " AND created_at > $2"
		args = append(args, after)
		query += " ORDER BY created_at ASC LIMIT $3"
		args = append(args, limit)
	} else {
		query += " ORDER BY created_at ASC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.UnitID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) queryTicketsWithLevel(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicketWithLevel(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func loadTicket(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var operatorIDNull sql.NullString
	var servicePointIDNull sql.NullString
	var commentsNull sql.NullString
	var startedAtNull sql.NullTime
	var finishedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.Number, &ticket.TicketTypeID, &ticket.UnitID, &ticket.State, &operatorIDNull, &servicePointIDNull, &commentsNull, &ticket.CreatedAt, &startedAtNull, &finishedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.OperatorID = nullStringPtr(operatorIDNull)
	ticket.ServicePointID = nullStringPtr(servicePointIDNull)
	if commentsNull.Valid {
		ticket.Comments = commentsNull.String
	}
	ticket.StartedAt = nullTimePtr(startedAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	return ticket, nil
}

func scanTicketWithLevel(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var operatorIDNull sql.NullString
	var servicePointIDNull sql.NullString
	var commentsNull sql.NullString
	var startedAtNull sql.NullTime
	var finishedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.Number, &ticket.TicketTypeID, &ticket.UnitID, &ticket.State, &operatorIDNull, &servicePointIDNull, &commentsNull, &ticket.CreatedAt, &startedAtNull, &finishedAtNull, &ticket.TypeLevel); err != nil {
		return models.Ticket{}, err
	}
	ticket.OperatorID = nullStringPtr(operatorIDNull)
	ticket.ServicePointID = nullStringPtr(servicePointIDNull)
	if commentsNull.Valid {
		ticket.Comments = commentsNull.String
	}
	ticket.StartedAt = nullTimePtr(startedAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	return ticket, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":        ticket.TicketID,
		"number":           ticket.Number,
		"ticket_type_id":   ticket.TicketTypeID,
		"unit_id":          ticket.UnitID,
		"state":            ticket.State,
		"operator_id":      ticket.OperatorID,
		"service_point_id": ticket.ServicePointID,
		"created_at":       ticket.CreatedAt,
		"started_at":       ticket.StartedAt,
		"finished_at":      ticket.FinishedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, unit_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), ticket.UnitID, eventType, payloadJSON, time.Now().UTC())
	return err
}

func prefixedTicketColumns(alias string) string {
	parts := strings.Split(ticketColumns, ", ")
	for i, part := range parts {
		parts[i] = alias + "." + part
	}
	return strings.Join(parts, ", ")
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}
