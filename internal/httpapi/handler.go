package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turnero/dispatch-service/internal/engine"
	"turnero/dispatch-service/internal/models"
	"turnero/dispatch-service/internal/store"

	"github.com/google/uuid"
)

// Dispatcher is the engine surface the API layer calls into.
type Dispatcher interface {
	CreateTicket(ctx context.Context, input engine.CreateTicketInput) (models.Ticket, error)
	ClaimNext(ctx context.Context, operatorID string) (models.Ticket, error)
	ChangeState(ctx context.Context, input engine.ChangeStateInput) (models.Ticket, error)
	ListWaiting(ctx context.Context, unitID string) ([]models.Ticket, error)
	Reap(ctx context.Context, now time.Time) (int, error)
}

// EventSource serves the read-side endpoints straight off the store.
type EventSource interface {
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListOutboxEvents(ctx context.Context, unitID string, after time.Time, limit int) ([]store.OutboxEvent, error)
}

type Handler struct {
	engine Dispatcher
	events EventSource
}

func NewHandler(engine Dispatcher, events EventSource) *Handler {
	return &Handler{engine: engine, events: events}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/tickets/actions/claim-next", h.handleClaimNext)
	mux.HandleFunc("/api/tickets/waiting", h.handleListWaiting)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/maintenance/reap", h.handleReap)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTicketRequest struct {
	UnitID       string `json:"unit_id"`
	TicketTypeID string `json:"ticket_type_id"`
	Comments     string `json:"comments"`
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.UnitID = strings.TrimSpace(req.UnitID)
	req.TicketTypeID = strings.TrimSpace(req.TicketTypeID)

	if req.UnitID == "" || req.TicketTypeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "unit_id and ticket_type_id are required")
		return
	}
	if !isValidUUID(req.UnitID) || !isValidUUID(req.TicketTypeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unit_id and ticket_type_id must be UUIDs")
		return
	}

	ticket, err := h.engine.CreateTicket(r.Context(), engine.CreateTicketInput{
		UnitID:       req.UnitID,
		TicketTypeID: req.TicketTypeID,
		Comments:     req.Comments,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, ticket)
}

type claimNextRequest struct {
	OperatorID string `json:"operator_id"`
}

func (h *Handler) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req claimNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.OperatorID = strings.TrimSpace(req.OperatorID)
	if req.OperatorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "operator_id is required")
		return
	}
	if !isValidUUID(req.OperatorID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "operator_id must be a UUID")
		return
	}

	ticket, err := h.engine.ClaimNext(r.Context(), req.OperatorID)
	if err != nil {
		if errors.Is(err, engine.ErrNoTicket) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleListWaiting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	unitID := strings.TrimSpace(r.URL.Query().Get("unit_id"))
	if unitID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "unit_id is required")
		return
	}
	if !isValidUUID(unitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unit_id must be a UUID")
		return
	}

	tickets, err := h.engine.ListWaiting(r.Context(), unitID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	ticket, err := h.events.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type ticketActionRequest struct {
	OperatorID     string `json:"operator_id"`
	ServicePointID string `json:"service_point_id"`
}

var actionTargets = map[string]string{
	"start":    models.StateServing,
	"complete": models.StateDone,
	"cancel":   models.StateCancelled,
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}
	targetState, ok := actionTargets[action]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req ticketActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.OperatorID = strings.TrimSpace(req.OperatorID)
	req.ServicePointID = strings.TrimSpace(req.ServicePointID)

	if targetState == models.StateServing {
		if req.OperatorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "operator_id is required to start serving")
			return
		}
		if !isValidUUID(req.OperatorID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "operator_id must be a UUID")
			return
		}
		if req.ServicePointID != "" && !isValidUUID(req.ServicePointID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "service_point_id must be a UUID when provided")
			return
		}
	}

	ticket, err := h.engine.ChangeState(r.Context(), engine.ChangeStateInput{
		TicketID:       ticketID,
		TargetState:    targetState,
		OperatorID:     req.OperatorID,
		ServicePointID: req.ServicePointID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	unitID := strings.TrimSpace(r.URL.Query().Get("unit_id"))
	if unitID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "unit_id is required")
		return
	}
	if !isValidUUID(unitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unit_id must be a UUID")
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.events.ListOutboxEvents(r.Context(), unitID, after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

type reapResponse struct {
	Cancelled int `json:"cancelled"`
}

func (h *Handler) handleReap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	count, err := h.engine.Reap(r.Context(), time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reapResponse{Cancelled: count})
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrTicketTypeNotFound):
		return http.StatusNotFound, "ticket_type_not_found", "ticket type not found"
	case errors.Is(err, store.ErrUnitNotFound):
		return http.StatusNotFound, "unit_not_found", "unit not found"
	case errors.Is(err, store.ErrOperatorNotFound):
		return http.StatusNotFound, "operator_not_found", "operator not found"
	case errors.Is(err, store.ErrServicePointNotFound):
		return http.StatusNotFound, "service_point_not_found", "service point not found"
	case errors.Is(err, engine.ErrTicketClosed):
		return http.StatusConflict, "ticket_closed", "ticket already closed"
	case errors.Is(err, engine.ErrStateUnchanged):
		return http.StatusConflict, "state_unchanged", "ticket is already in the requested state"
	case errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden, "not_authorized", "operator not authorized for this ticket type"
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable, "conflict", "contention on the queue, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
