package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/walkin-queue/internal/access"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"
)

const ticketID = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"

type fakeService struct {
	issueFn          func(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error)
	getTicketFn      func(ctx context.Context, ticketID string) (models.Ticket, error)
	callFn           func(ctx context.Context, input queue.CallInput) (models.Ticket, error)
	repeatFn         func(ctx context.Context, ticketID string) (models.Ticket, error)
	finishFn         func(ctx context.Context, ticketID string) (models.Ticket, error)
	noShowFn         func(ctx context.Context, ticketID string) (models.Ticket, error)
	cancelFn         func(ctx context.Context, ticketID string) (models.Ticket, error)
	snapshotFn       func(ctx context.Context, since *time.Time) (models.Snapshot, error)
	claimPrintFn     func(ctx context.Context) (models.PrintJob, bool, error)
	ackPrintFn       func(ctx context.Context, input queue.AckInput) (models.PrintJob, error)
	settingsFn       func(ctx context.Context) (models.Settings, error)
	updateSettingsFn func(ctx context.Context, patch queue.SettingsPatch) (models.Settings, error)
}

func (f fakeService) Issue(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error) {
	if f.issueFn == nil {
		return queue.IssueResult{}, nil
	}
	return f.issueFn(ctx, input)
}

func (f fakeService) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getTicketFn(ctx, id)
}

func (f fakeService) CallNext(ctx context.Context, input queue.CallInput) (models.Ticket, error) {
	if f.callFn == nil {
		return models.Ticket{}, store.ErrNoWaitingTickets
	}
	return f.callFn(ctx, input)
}

func (f fakeService) Repeat(ctx context.Context, id string) (models.Ticket, error) {
	if f.repeatFn == nil {
		return models.Ticket{}, nil
	}
	return f.repeatFn(ctx, id)
}

func (f fakeService) Finish(ctx context.Context, id string) (models.Ticket, error) {
	if f.finishFn == nil {
		return models.Ticket{}, nil
	}
	return f.finishFn(ctx, id)
}

func (f fakeService) NoShow(ctx context.Context, id string) (models.Ticket, error) {
	if f.noShowFn == nil {
		return models.Ticket{}, nil
	}
	return f.noShowFn(ctx, id)
}

func (f fakeService) Cancel(ctx context.Context, id string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, id)
}

func (f fakeService) Snapshot(ctx context.Context, since *time.Time) (models.Snapshot, error) {
	if f.snapshotFn == nil {
		return models.NewSnapshot(time.Time{}), nil
	}
	return f.snapshotFn(ctx, since)
}

func (f fakeService) ClaimPrintJob(ctx context.Context) (models.PrintJob, bool, error) {
	if f.claimPrintFn == nil {
		return models.PrintJob{}, false, nil
	}
	return f.claimPrintFn(ctx)
}

func (f fakeService) AckPrintJob(ctx context.Context, input queue.AckInput) (models.PrintJob, error) {
	if f.ackPrintFn == nil {
		return models.PrintJob{}, nil
	}
	return f.ackPrintFn(ctx, input)
}

func (f fakeService) Settings(ctx context.Context) (models.Settings, error) {
	if f.settingsFn == nil {
		return models.DefaultSettings(), nil
	}
	return f.settingsFn(ctx)
}

func (f fakeService) UpdateSettings(ctx context.Context, patch queue.SettingsPatch) (models.Settings, error) {
	if f.updateSettingsFn == nil {
		return models.DefaultSettings(), nil
	}
	return f.updateSettingsFn(ctx, patch)
}

type fakeVerifier map[string]access.Principal

func (v fakeVerifier) Verify(token string) (access.Principal, error) {
	principal, ok := v[token]
	if !ok {
		return access.Principal{}, errors.New("unknown token")
	}
	return principal, nil
}

var principals = fakeVerifier{
	"admin":     {UserID: "admin-1", Role: access.RoleAdmin},
	"reception": {UserID: "rec-1", Role: access.RoleReceptionSecurity},
	"operator":  {UserID: "op-1", Role: access.RoleOperatorQueue, WindowLabel: "Window 3", QueueType: models.QueueReg},
}

func serve(h *Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	AuthMiddleware(principals, h.Routes()).ServeHTTP(resp, req)
	return resp
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload.Error.Code
}

func TestIssueTicketSuccess(t *testing.T) {
	var got queue.IssueInput
	h := NewHandler(fakeService{
		issueFn: func(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error) {
			got = input
			return queue.IssueResult{
				Ticket:   models.Ticket{TicketID: ticketID, TicketNumber: "R-001", QueueType: input.QueueType, Status: models.StatusWaiting},
				Created:  true,
				PrintURL: "/queue/print/" + ticketID,
			}, nil
		},
	}, Options{})

	resp := serve(h, http.MethodPost, "/api/tickets", "reception", map[string]string{"queue_type": "REG"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	if got.QueueType != models.QueueReg || got.IssuedBy != "rec-1" {
		t.Fatalf("unexpected issue input %+v", got)
	}
	var result queue.IssueResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Ticket.TicketNumber != "R-001" || result.PrintURL == "" {
		t.Fatalf("unexpected response %+v", result)
	}
}

func TestIssueTicketReplayReturnsOK(t *testing.T) {
	h := NewHandler(fakeService{
		issueFn: func(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error) {
			return queue.IssueResult{Ticket: models.Ticket{TicketID: ticketID}, Created: false}, nil
		},
	}, Options{})
	resp := serve(h, http.MethodPost, "/api/tickets", "admin", map[string]string{
		"queue_type": "TECH",
		"request_id": "11111111-1111-1111-1111-111111111111",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestIssueTicketRejects(t *testing.T) {
	h := NewHandler(fakeService{
		issueFn: func(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error) {
			return queue.IssueResult{}, fmt.Errorf("%w: timeout", store.ErrAllocationFailed)
		},
	}, Options{})

	cases := []struct {
		name   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"no token", "", map[string]string{"queue_type": "REG"}, http.StatusUnauthorized, "unauthorized"},
		{"bad token", "forged", map[string]string{"queue_type": "REG"}, http.StatusUnauthorized, "unauthorized"},
		{"operator", "operator", map[string]string{"queue_type": "REG"}, http.StatusForbidden, "access_denied"},
		{"unknown lane", "reception", map[string]string{"queue_type": "VIP"}, http.StatusBadRequest, "invalid_request"},
		{"bad request id", "reception", map[string]string{"queue_type": "REG", "request_id": "abc"}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", "reception", map[string]string{"queue_type": "REG", "priority": "vip"}, http.StatusBadRequest, "invalid_json"},
		{"allocation failed", "reception", map[string]string{"queue_type": "REG"}, http.StatusServiceUnavailable, "allocation_failed"},
	}
	for _, tt := range cases {
		resp := serve(h, http.MethodPost, "/api/tickets", tt.token, tt.body)
		if resp.Code != tt.status {
			t.Fatalf("%s: expected status %d, got %d", tt.name, tt.status, resp.Code)
		}
		if code := errorCode(t, resp); code != tt.code {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.code, code)
		}
	}
}

func TestCallNextUsesPrincipalWindow(t *testing.T) {
	var got queue.CallInput
	h := NewHandler(fakeService{
		callFn: func(ctx context.Context, input queue.CallInput) (models.Ticket, error) {
			got = input
			return models.Ticket{TicketID: ticketID, TicketNumber: "R-001", Status: models.StatusServing}, nil
		},
	}, Options{})

	resp := serve(h, http.MethodPost, "/api/tickets/actions/call-next", "operator", map[string]string{"queue_type": "REG"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.OperatorID != "op-1" || got.WindowLabel != "Window 3" || got.QueueType != models.QueueReg {
		t.Fatalf("unexpected call input %+v", got)
	}

	serve(h, http.MethodPost, "/api/tickets/actions/call-next", "operator", map[string]string{"queue_type": "REG", "window_label": "Window 9"})
	if got.WindowLabel != "Window 3" {
		t.Fatalf("operator overrode token window: %+v", got)
	}

	serve(h, http.MethodPost, "/api/tickets/actions/call-next", "admin", map[string]string{"queue_type": "REG", "window_label": "Window 9"})
	if got.WindowLabel != "Window 9" || got.OperatorID != "admin-1" {
		t.Fatalf("admin window ignored: %+v", got)
	}
}

func TestCallNextErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty", store.ErrNoWaitingTickets, http.StatusNotFound, "queue_empty"},
		{"race lost", store.ErrConflict, http.StatusConflict, "conflict"},
		{"no window", queue.ErrWindowRequired, http.StatusBadRequest, "invalid_request"},
		{"db down", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range cases {
		h := NewHandler(fakeService{
			callFn: func(ctx context.Context, input queue.CallInput) (models.Ticket, error) {
				return models.Ticket{}, tt.err
			},
		}, Options{})
		resp := serve(h, http.MethodPost, "/api/tickets/actions/call-next", "admin", map[string]string{"queue_type": "TECH"})
		if resp.Code != tt.status {
			t.Fatalf("%s: expected status %d, got %d", tt.name, tt.status, resp.Code)
		}
		if code := errorCode(t, resp); code != tt.code {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.code, code)
		}
	}
}

func TestCallNextAccess(t *testing.T) {
	h := NewHandler(fakeService{}, Options{})
	if resp := serve(h, http.MethodPost, "/api/tickets/actions/call-next", "reception", map[string]string{"queue_type": "REG"}); resp.Code != http.StatusForbidden {
		t.Fatalf("reception calling: expected 403, got %d", resp.Code)
	}

	restricted := NewHandler(fakeService{}, Options{Access: access.Policy{RestrictOperatorsToLane: true}})
	if resp := serve(restricted, http.MethodPost, "/api/tickets/actions/call-next", "operator", map[string]string{"queue_type": "TECH"}); resp.Code != http.StatusForbidden {
		t.Fatalf("operator on foreign lane: expected 403, got %d", resp.Code)
	}
}

func TestTicketActions(t *testing.T) {
	var called string
	record := func(name string) func(context.Context, string) (models.Ticket, error) {
		return func(ctx context.Context, id string) (models.Ticket, error) {
			called = name
			return models.Ticket{TicketID: id}, nil
		}
	}
	h := NewHandler(fakeService{
		repeatFn: record("repeat"),
		finishFn: record("finish"),
		noShowFn: record("no-show"),
		cancelFn: record("cancel"),
	}, Options{})

	for _, action := range []string{"repeat", "finish", "no-show", "cancel"} {
		called = ""
		resp := serve(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/"+action, "admin", nil)
		if resp.Code != http.StatusOK || called != action {
			t.Fatalf("%s: status=%d called=%q", action, resp.Code, called)
		}
	}

	if resp := serve(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/transfer", "admin", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown action: expected 404, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/tickets/not-a-uuid/actions/finish", "admin", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad ticket id: expected 400, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodGet, "/api/tickets/"+ticketID+"/actions/finish", "admin", nil); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET action: expected 405, got %d", resp.Code)
	}
}

func TestTicketActionAccess(t *testing.T) {
	h := NewHandler(fakeService{}, Options{})
	if resp := serve(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/cancel", "operator", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("operator cancel: expected 403, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/finish", "reception", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("reception finish: expected 403, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/finish", "operator", nil); resp.Code != http.StatusOK {
		t.Fatalf("operator finish: expected 200, got %d", resp.Code)
	}

	restricted := NewHandler(fakeService{
		getTicketFn: func(ctx context.Context, id string) (models.Ticket, error) {
			return models.Ticket{TicketID: id, QueueType: models.QueueTech}, nil
		},
	}, Options{Access: access.Policy{RestrictOperatorsToLane: true}})
	if resp := serve(restricted, http.MethodPost, "/api/tickets/"+ticketID+"/actions/repeat", "operator", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("operator repeat on TECH ticket: expected 403, got %d", resp.Code)
	}
	if resp := serve(restricted, http.MethodPost, "/api/tickets/"+ticketID+"/actions/repeat", "admin", nil); resp.Code != http.StatusOK {
		t.Fatalf("admin repeat: expected 200, got %d", resp.Code)
	}
}

func TestTicketActionInvalidState(t *testing.T) {
	h := NewHandler(fakeService{
		repeatFn: func(ctx context.Context, id string) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidState
		},
	}, Options{})
	resp := serve(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/repeat", "admin", nil)
	if resp.Code != http.StatusConflict || errorCode(t, resp) != "invalid_state" {
		t.Fatalf("expected 409 invalid_state, got %d", resp.Code)
	}
}

func TestGetTicket(t *testing.T) {
	h := NewHandler(fakeService{
		getTicketFn: func(ctx context.Context, id string) (models.Ticket, error) {
			return models.Ticket{TicketID: id, TicketNumber: "T-004"}, nil
		},
	}, Options{})
	resp := serve(h, http.MethodGet, "/api/tickets/"+ticketID, "operator", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	missing := NewHandler(fakeService{}, Options{})
	resp = serve(missing, http.MethodGet, "/api/tickets/"+ticketID, "operator", nil)
	if resp.Code != http.StatusNotFound || errorCode(t, resp) != "ticket_not_found" {
		t.Fatalf("expected 404 ticket_not_found, got %d", resp.Code)
	}
}

func TestScreenStateIsPublic(t *testing.T) {
	var gotSince *time.Time
	h := NewHandler(fakeService{
		snapshotFn: func(ctx context.Context, since *time.Time) (models.Snapshot, error) {
			gotSince = since
			return models.NewSnapshot(time.Date(2026, 5, 4, 5, 0, 0, 0, time.UTC)), nil
		},
	}, Options{})

	resp := serve(h, http.MethodGet, "/api/screen-state?since=2026-05-04T10:00:00%2B05:00", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotSince == nil || !gotSince.Equal(time.Date(2026, 5, 4, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("since not parsed: %v", gotSince)
	}
	var body struct {
		Lanes       map[string]json.RawMessage `json:"lanes"`
		RecentCalls []models.Ticket            `json:"recent_calls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Lanes["REG"]; !ok || body.RecentCalls == nil {
		t.Fatalf("unexpected snapshot body %+v", body)
	}

	if resp := serve(h, http.MethodGet, "/api/screen-state?since=yesterday", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad since: expected 400, got %d", resp.Code)
	}
}

func TestPrintJobEndpoints(t *testing.T) {
	job := models.PrintJob{JobID: "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", TicketID: ticketID, Status: models.PrintJobProcessing}
	var acked queue.AckInput
	pending := true
	h := NewHandler(fakeService{
		claimPrintFn: func(ctx context.Context) (models.PrintJob, bool, error) {
			if !pending {
				return models.PrintJob{}, false, nil
			}
			pending = false
			return job, true, nil
		},
		ackPrintFn: func(ctx context.Context, input queue.AckInput) (models.PrintJob, error) {
			acked = input
			job.Status = models.PrintJobCompleted
			return job, nil
		},
	}, Options{PrintSecret: "s3cret"})

	printReq := func(method, path, secret string, body interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		if secret != "" {
			req.Header.Set("X-Print-Secret", secret)
		}
		resp := httptest.NewRecorder()
		AuthMiddleware(principals, h.Routes()).ServeHTTP(resp, req)
		return resp
	}

	if resp := printReq(http.MethodGet, "/api/print-jobs/next", "wrong", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", resp.Code)
	}
	if resp := printReq(http.MethodGet, "/api/print-jobs/next", "s3cret", nil); resp.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d", resp.Code)
	}
	if resp := printReq(http.MethodGet, "/api/print-jobs/next", "s3cret", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("empty: expected 204, got %d", resp.Code)
	}
	resp := printReq(http.MethodPost, "/api/print-jobs/ack", "s3cret", map[string]interface{}{"job_id": job.JobID, "success": true})
	if resp.Code != http.StatusOK || acked.JobID != job.JobID || !acked.Success {
		t.Fatalf("ack: status=%d input=%+v", resp.Code, acked)
	}

	disabled := NewHandler(fakeService{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/print-jobs/next", nil)
	req.Header.Set("X-Print-Secret", "")
	rec := httptest.NewRecorder()
	AuthMiddleware(principals, disabled.Routes()).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled print service: expected 404, got %d", rec.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	h := NewHandler(fakeService{
		updateSettingsFn: func(ctx context.Context, patch queue.SettingsPatch) (models.Settings, error) {
			if patch.ScreensLang != nil && *patch.ScreensLang == "xx" {
				return models.Settings{}, fmt.Errorf("%w: screens_lang", queue.ErrInvalidSettings)
			}
			return models.DefaultSettings(), nil
		},
	}, Options{})

	if resp := serve(h, http.MethodGet, "/api/config", "operator", nil); resp.Code != http.StatusOK {
		t.Fatalf("get config: expected 200, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPut, "/api/config", "operator", map[string]bool{"qr_enabled": false}); resp.Code != http.StatusForbidden {
		t.Fatalf("operator put: expected 403, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPut, "/api/config", "admin", map[string]bool{"qr_enabled": false}); resp.Code != http.StatusOK {
		t.Fatalf("admin put: expected 200, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPut, "/api/config", "admin", map[string]string{"screens_lang": "xx"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("invalid settings: expected 400, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodGet, "/api/config", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous config: expected 401, got %d", resp.Code)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := NewHandler(fakeService{}, Options{})
	if resp := serve(h, http.MethodGet, "/healthz", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}
	if resp := serve(h, http.MethodGet, "/metrics", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("metrics: %d", resp.Code)
	}
}
