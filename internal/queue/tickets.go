package queue

import (
	"context"
	"errors"
	"strings"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

type IssueInput struct {
	QueueType models.QueueType
	IssuedBy  string
	RequestID string
}

type IssueResult struct {
	Ticket   models.Ticket `json:"ticket"`
	Created  bool          `json:"created"`
	PrintURL string        `json:"print_url"`
}

type CallInput struct {
	QueueType   models.QueueType
	OperatorID  string
	WindowLabel string
}

// Issue mints the next number of the lane for the current business day and
// stores a WAITING ticket. The counter increment and the insert commit
// together, so a failure never consumes a number.
func (s *Service) Issue(ctx context.Context, input IssueInput) (result IssueResult, err error) {
	ctx, span := s.startSpan(ctx, "queue.Issue", attribute.String("queue.type", string(input.QueueType)))
	defer func() { endSpan(span, err) }()

	prefix, ok := s.policy.Prefixes[input.QueueType]
	if !ok {
		return IssueResult{}, ErrUnknownQueueType
	}

	now := s.clock.Now()
	ticket, created, err := s.store.CreateTicket(ctx, store.CreateTicketInput{
		RequestID:  strings.TrimSpace(input.RequestID),
		QueueType:  input.QueueType,
		TicketDate: s.BusinessDate(now),
		IssuedBy:   input.IssuedBy,
		Prefix:     prefix,
		Pad:        s.policy.NumberPad,
		Now:        s.clock.Now,
	})
	if err != nil {
		if errors.Is(err, store.ErrAllocationFailed) {
			allocationFailures.Add(1)
		}
		s.logger.Error("ticket issuance failed", "queue_type", input.QueueType, "error", err)
		return IssueResult{}, err
	}

	result = IssueResult{
		Ticket:   ticket,
		Created:  created,
		PrintURL: "/queue/print/" + ticket.TicketID,
	}
	if !created {
		s.logger.Info("ticket issuance replayed", "ticket_id", ticket.TicketID, "request_id", ticket.RequestID)
		return result, nil
	}

	ticketsIssued.Add(1)
	span.SetAttributes(attribute.String("ticket.number", ticket.TicketNumber))
	s.logger.Info("ticket issued", "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber, "queue_type", ticket.QueueType, "ticket_date", ticket.TicketDate)
	s.invalidateSnapshot(ctx)

	if s.policy.PrintEnabled {
		s.enqueuePrint(ctx, ticket)
	}
	return result, nil
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.store.GetTicket(ctx, ticketID)
}

// CallNext assigns the oldest WAITING ticket of the lane to the operator's
// window. Losing a race to another operator yields store.ErrConflict; the
// caller decides whether to call again.
func (s *Service) CallNext(ctx context.Context, input CallInput) (ticket models.Ticket, err error) {
	ctx, span := s.startSpan(ctx, "queue.CallNext", attribute.String("queue.type", string(input.QueueType)))
	defer func() { endSpan(span, err) }()

	if _, ok := s.policy.Prefixes[input.QueueType]; !ok {
		return models.Ticket{}, ErrUnknownQueueType
	}
	operator := strings.TrimSpace(input.OperatorID)
	if operator == "" {
		return models.Ticket{}, ErrOperatorRequired
	}
	window := strings.TrimSpace(input.WindowLabel)
	if window == "" {
		return models.Ticket{}, ErrWindowRequired
	}

	next, err := s.store.NextWaiting(ctx, input.QueueType)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, err = s.store.ClaimTicket(ctx, store.ClaimInput{
		TicketID:    next.TicketID,
		QueueType:   input.QueueType,
		OperatorID:  operator,
		WindowLabel: window,
		CalledAt:    s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			callConflicts.Add(1)
			s.logger.Warn("call next lost race", "ticket_id", next.TicketID, "queue_type", input.QueueType, "operator", operator)
		}
		return models.Ticket{}, err
	}

	ticketsCalled.Add(1)
	span.SetAttributes(attribute.String("ticket.number", ticket.TicketNumber))
	s.logger.Info("ticket called", "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber, "queue_type", ticket.QueueType, "operator", operator, "window", window)
	s.invalidateSnapshot(ctx)
	return ticket, nil
}

// Repeat re-announces an active ticket. Only repeat_at changes.
func (s *Service) Repeat(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.transition(ctx, ticketID, store.ActionRepeat)
}

func (s *Service) Finish(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.transition(ctx, ticketID, store.ActionFinish)
}

func (s *Service) NoShow(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.transition(ctx, ticketID, store.ActionNoShow)
}

func (s *Service) Cancel(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.transition(ctx, ticketID, store.ActionCancel)
}

func (s *Service) transition(ctx context.Context, ticketID, action string) (ticket models.Ticket, err error) {
	ctx, span := s.startSpan(ctx, "queue."+action, attribute.String("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	status, ok := store.TargetStatus(action)
	if !ok {
		return models.Ticket{}, store.ErrInvalidState
	}
	now := s.clock.Now()
	update := store.TicketUpdate{
		TicketID: ticketID,
		From:     store.AllowedFrom(action),
		Status:   status,
	}
	if action == store.ActionRepeat {
		update.RepeatAt = &now
	} else {
		update.FinishedAt = &now
	}

	ticket, err = s.store.UpdateTicket(ctx, update)
	if err != nil {
		return models.Ticket{}, err
	}
	s.logger.Info("ticket "+action, "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber, "status", ticket.Status)
	s.invalidateSnapshot(ctx)
	return ticket, nil
}
