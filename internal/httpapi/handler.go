package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"qms/walkin-queue/internal/access"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
)

// QueueService is the queue engine as seen by the HTTP layer.
type QueueService interface {
	Issue(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CallNext(ctx context.Context, input queue.CallInput) (models.Ticket, error)
	Repeat(ctx context.Context, ticketID string) (models.Ticket, error)
	Finish(ctx context.Context, ticketID string) (models.Ticket, error)
	NoShow(ctx context.Context, ticketID string) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID string) (models.Ticket, error)
	Snapshot(ctx context.Context, since *time.Time) (models.Snapshot, error)
	ClaimPrintJob(ctx context.Context) (models.PrintJob, bool, error)
	AckPrintJob(ctx context.Context, input queue.AckInput) (models.PrintJob, error)
	Settings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, patch queue.SettingsPatch) (models.Settings, error)
}

type Handler struct {
	service     QueueService
	access      access.Policy
	printSecret string
	logger      *slog.Logger
}

type Options struct {
	Access access.Policy
	// PrintSecret authenticates print agents. Empty disables the print endpoints.
	PrintSecret string
	Logger      *slog.Logger
}

type issueRequest struct {
	QueueType string `json:"queue_type"`
	RequestID string `json:"request_id"`
}

type callNextRequest struct {
	QueueType   string `json:"queue_type"`
	WindowLabel string `json:"window_label"`
}

type printAckRequest struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(service QueueService, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		service:     service,
		access:      options.Access,
		printSecret: options.PrintSecret,
		logger:      logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/tickets", h.handleIssue)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/screen-state", h.handleScreenState)
	mux.HandleFunc("/api/print-jobs/next", h.handlePrintNext)
	mux.HandleFunc("/api/print-jobs/ack", h.handlePrintAck)
	mux.HandleFunc("/api/config", h.handleConfig)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.access.CanIssue(principal); err != nil {
		h.fail(w, r, err)
		return
	}

	var req issueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	qt, ok := models.ParseQueueType(strings.TrimSpace(req.QueueType))
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_type must be REG or TECH")
		return
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	result, err := h.service.Issue(r.Context(), queue.IssueInput{
		QueueType: qt,
		IssuedBy:  principal.UserID,
		RequestID: req.RequestID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req callNextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	qt, ok := models.ParseQueueType(strings.TrimSpace(req.QueueType))
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_type must be REG or TECH")
		return
	}
	if err := h.access.CanOperate(principal, qt); err != nil {
		h.fail(w, r, err)
		return
	}
	// Operators call to the window their token names; admins may pick one.
	window := principal.WindowLabel
	if principal.IsAdmin() && strings.TrimSpace(req.WindowLabel) != "" {
		window = strings.TrimSpace(req.WindowLabel)
	}

	ticket, err := h.service.CallNext(r.Context(), queue.CallInput{
		QueueType:   qt,
		OperatorID:  principal.UserID,
		WindowLabel: window,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	ticketID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if len(parts) == 1 {
		ticket, err := h.service.GetTicket(r.Context(), ticketID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
		return
	}

	var action func(context.Context, string) (models.Ticket, error)
	switch parts[2] {
	case "repeat":
		action = h.service.Repeat
	case "finish":
		action = h.service.Finish
	case "no-show":
		action = h.service.NoShow
	case "cancel":
		action = h.service.Cancel
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.authorizeAction(r.Context(), principal, parts[2], ticketID); err != nil {
		h.fail(w, r, err)
		return
	}

	ticket, err := action(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// authorizeAction checks the role, and the ticket's lane when operators are
// bound to one.
func (h *Handler) authorizeAction(ctx context.Context, principal access.Principal, action, ticketID string) error {
	if action == "cancel" {
		return h.access.CanCancel(principal)
	}
	if principal.IsAdmin() || !h.access.RestrictOperatorsToLane {
		return h.access.CanOperate(principal, principal.QueueType)
	}
	ticket, err := h.service.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	return h.access.CanOperate(principal, ticket.QueueType)
}

func (h *Handler) handleScreenState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var since *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "since must be an RFC3339 timestamp")
			return
		}
		since = &parsed
	}

	snapshot, err := h.service.Snapshot(r.Context(), since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handlePrintNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requirePrintAgent(w, r) {
		return
	}
	job, ok, err := h.service.ClaimPrintJob(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handlePrintAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requirePrintAgent(w, r) {
		return
	}
	var req printAckRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if !isValidUUID(req.JobID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "job_id must be a UUID")
		return
	}
	job, err := h.service.AckPrintJob(r.Context(), queue.AckInput{JobID: req.JobID, Success: req.Success, Error: req.Error})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) requirePrintAgent(w http.ResponseWriter, r *http.Request) bool {
	if h.printSecret == "" {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "print_disabled", "print service is disabled")
		return false
	}
	given := r.Header.Get("X-Print-Secret")
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.printSecret)) != 1 {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid print secret")
		return false
	}
	return true
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		settings, err := h.service.Settings(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		if err := h.access.CanEditSettings(principal); err != nil {
			h.fail(w, r, err)
			return
		}
		var patch queue.SettingsPatch
		if !decodeRequest(w, r, &patch) {
			return
		}
		settings, err := h.service.UpdateSettings(r.Context(), patch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAllocationFailed):
		return http.StatusServiceUnavailable, "allocation_failed", "ticket number could not be allocated, retry"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "ticket was taken by another operator, call again"
	case errors.Is(err, store.ErrNoWaitingTickets):
		return http.StatusNotFound, "queue_empty", "no waiting tickets"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrPrintJobNotFound):
		return http.StatusNotFound, "print_job_not_found", "print job not found"
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, queue.ErrUnknownQueueType),
		errors.Is(err, queue.ErrOperatorRequired),
		errors.Is(err, queue.ErrWindowRequired),
		errors.Is(err, queue.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_request", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
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
