package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"turnero/dispatch-service/internal/engine"
	"turnero/dispatch-service/internal/models"
	"turnero/dispatch-service/internal/store"
)

type fakeDispatcher struct {
	createFunc func(ctx context.Context, input engine.CreateTicketInput) (models.Ticket, error)
	claimFunc  func(ctx context.Context, operatorID string) (models.Ticket, error)
	changeFunc func(ctx context.Context, input engine.ChangeStateInput) (models.Ticket, error)
	listFunc   func(ctx context.Context, unitID string) ([]models.Ticket, error)
	reapFunc   func(ctx context.Context, now time.Time) (int, error)
}

func (f *fakeDispatcher) CreateTicket(ctx context.Context, input engine.CreateTicketInput) (models.Ticket, error) {
	return f.createFunc(ctx, input)
}

func (f *fakeDispatcher) ClaimNext(ctx context.Context, operatorID string) (models.Ticket, error) {
	return f.claimFunc(ctx, operatorID)
}

func (f *fakeDispatcher) ChangeState(ctx context.Context, input engine.ChangeStateInput) (models.Ticket, error) {
	return f.changeFunc(ctx, input)
}

func (f *fakeDispatcher) ListWaiting(ctx context.Context, unitID string) ([]models.Ticket, error) {
	return f.listFunc(ctx, unitID)
}

func (f *fakeDispatcher) Reap(ctx context.Context, now time.Time) (int, error) {
	return f.reapFunc(ctx, now)
}

type fakeEventSource struct {
	getFunc  func(ctx context.Context, ticketID string) (models.Ticket, error)
	listFunc func(ctx context.Context, unitID string, after time.Time, limit int) ([]store.OutboxEvent, error)
}

func (f *fakeEventSource) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return f.getFunc(ctx, ticketID)
}

func (f *fakeEventSource) ListOutboxEvents(ctx context.Context, unitID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	return f.listFunc(ctx, unitID, after, limit)
}

const (
	unitUUID     = "11111111-1111-1111-1111-111111111111"
	typeUUID     = "22222222-2222-2222-2222-222222222222"
	operatorUUID = "33333333-3333-3333-3333-333333333333"
	ticketUUID   = "44444444-4444-4444-4444-444444444444"
)

func sampleTicket() models.Ticket {
	return models.Ticket{
		TicketID:     ticketUUID,
		Number:       7,
		TicketTypeID: typeUUID,
		UnitID:       unitUUID,
		State:        models.StateWaiting,
		CreatedAt:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestCreateTicketEndpoint(t *testing.T) {
	dispatcher := &fakeDispatcher{
		createFunc: func(_ context.Context, input engine.CreateTicketInput) (models.Ticket, error) {
			if input.UnitID != unitUUID || input.TicketTypeID != typeUUID {
				t.Fatalf("unexpected input: %+v", input)
			}
			return sampleTicket(), nil
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	body := `{"unit_id":"` + unitUUID + `","ticket_type_id":"` + typeUUID + `","comments":"ventanilla 3"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ticket.Number != 7 {
		t.Fatalf("number = %d, want 7", ticket.Number)
	}
}

func TestCreateTicketEndpointValidation(t *testing.T) {
	dispatcher := &fakeDispatcher{
		createFunc: func(_ context.Context, _ engine.CreateTicketInput) (models.Ticket, error) {
			t.Fatal("engine should not be called")
			return models.Ticket{}, nil
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	cases := []struct {
		name string
		body string
	}{
		{"missing fields", `{}`},
		{"not a uuid", `{"unit_id":"front-desk","ticket_type_id":"` + typeUUID + `"}`},
		{"unknown field", `{"unit_id":"` + unitUUID + `","ticket_type_id":"` + typeUUID + `","priority":1}`},
		{"broken json", `{"unit_id":`},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestClaimNextEndpointEmptyQueue(t *testing.T) {
	dispatcher := &fakeDispatcher{
		claimFunc: func(_ context.Context, _ string) (models.Ticket, error) {
			return models.Ticket{}, engine.ErrNoTicket
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	body := `{"operator_id":"` + operatorUUID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/claim-next", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", rec.Body.String())
	}
}

func TestClaimNextEndpointReturnsTicket(t *testing.T) {
	ticket := sampleTicket()
	ticket.State = models.StateServing
	dispatcher := &fakeDispatcher{
		claimFunc: func(_ context.Context, operatorID string) (models.Ticket, error) {
			if operatorID != operatorUUID {
				t.Fatalf("operator = %s", operatorID)
			}
			return ticket, nil
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	body := `{"operator_id":"` + operatorUUID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/claim-next", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var got models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != models.StateServing {
		t.Fatalf("state = %s, want serving", got.State)
	}
}

func TestTicketActionEndpointStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		action     string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"closed ticket", "complete", `{}`, engine.ErrTicketClosed, http.StatusConflict, "ticket_closed"},
		{"same state", "start", `{"operator_id":"` + operatorUUID + `"}`, engine.ErrStateUnchanged, http.StatusConflict, "state_unchanged"},
		{"invalid transition", "complete", `{}`, engine.ErrInvalidTransition, http.StatusConflict, "invalid_state"},
		{"not authorized", "start", `{"operator_id":"` + operatorUUID + `"}`, engine.ErrUnauthorized, http.StatusForbidden, "not_authorized"},
		{"not found", "cancel", `{}`, store.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
		{"contention", "complete", `{}`, store.ErrConflict, http.StatusServiceUnavailable, "conflict"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &fakeDispatcher{
				changeFunc: func(_ context.Context, _ engine.ChangeStateInput) (models.Ticket, error) {
					return models.Ticket{}, tt.err
				},
			}
			h := NewHandler(dispatcher, &fakeEventSource{})

			req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketUUID+"/actions/"+tt.action, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Fatalf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestTicketActionEndpointMapsAction(t *testing.T) {
	var got engine.ChangeStateInput
	dispatcher := &fakeDispatcher{
		changeFunc: func(_ context.Context, input engine.ChangeStateInput) (models.Ticket, error) {
			got = input
			ticket := sampleTicket()
			ticket.State = input.TargetState
			return ticket, nil
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	body := `{"operator_id":"` + operatorUUID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketUUID+"/actions/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.TicketID != ticketUUID || got.TargetState != models.StateServing || got.OperatorID != operatorUUID {
		t.Fatalf("unexpected input: %+v", got)
	}
}

func TestTicketActionEndpointUnknownAction(t *testing.T) {
	h := NewHandler(&fakeDispatcher{}, &fakeEventSource{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketUUID+"/actions/park", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTicketActionStartRequiresOperator(t *testing.T) {
	h := NewHandler(&fakeDispatcher{}, &fakeEventSource{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketUUID+"/actions/start", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestGetTicketEndpoint(t *testing.T) {
	events := &fakeEventSource{
		getFunc: func(_ context.Context, ticketID string) (models.Ticket, error) {
			if ticketID != ticketUUID {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return sampleTicket(), nil
		},
	}
	h := NewHandler(&fakeDispatcher{}, events)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/"+ticketUUID, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tickets/"+unitUUID, nil)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListWaitingEndpoint(t *testing.T) {
	dispatcher := &fakeDispatcher{
		listFunc: func(_ context.Context, unitID string) ([]models.Ticket, error) {
			if unitID != unitUUID {
				t.Fatalf("unit = %s", unitID)
			}
			return []models.Ticket{sampleTicket()}, nil
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/waiting?unit_id="+unitUUID, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var tickets []models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &tickets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("len = %d, want 1", len(tickets))
	}
}

func TestEventsEndpointQueryParsing(t *testing.T) {
	var gotAfter time.Time
	var gotLimit int
	events := &fakeEventSource{
		listFunc: func(_ context.Context, _ string, after time.Time, limit int) ([]store.OutboxEvent, error) {
			gotAfter = after
			gotLimit = limit
			return nil, nil
		},
	}
	h := NewHandler(&fakeDispatcher{}, events)

	req := httptest.NewRequest(http.MethodGet, "/api/events?unit_id="+unitUUID+"&after=2026-03-10T09:00:00Z&limit=25", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotLimit != 25 {
		t.Fatalf("limit = %d, want 25", gotLimit)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !gotAfter.Equal(want) {
		t.Fatalf("after = %v, want %v", gotAfter, want)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/events?unit_id="+unitUUID+"&after=yesterday", nil)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReapEndpoint(t *testing.T) {
	dispatcher := &fakeDispatcher{
		reapFunc: func(_ context.Context, _ time.Time) (int, error) {
			return 4, nil
		},
	}
	h := NewHandler(dispatcher, &fakeEventSource{})

	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/reap", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp reapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cancelled != 4 {
		t.Fatalf("cancelled = %d, want 4", resp.Cancelled)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeDispatcher{}, &fakeEventSource{})

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/tickets"},
		{http.MethodGet, "/api/tickets/actions/claim-next"},
		{http.MethodPost, "/api/tickets/waiting"},
		{http.MethodGet, "/api/maintenance/reap"},
	}
	for _, tt := range cases {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}
}
