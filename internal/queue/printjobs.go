package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"qms/walkin-queue/internal/models"
)

type AckInput struct {
	JobID   string
	Success bool
	Error   string
}

// enqueuePrint is best effort: a ticket stays valid when its print job could
// not be stored.
func (s *Service) enqueuePrint(ctx context.Context, ticket models.Ticket) {
	settings, err := s.Settings(ctx)
	if err != nil {
		s.logger.Warn("print settings unavailable, using defaults", "error", err)
		settings = models.DefaultSettings()
	}
	payload, err := encodePrintPayload(models.PrintPayload{
		TicketNumber: ticket.TicketNumber,
		QueueType:    ticket.QueueType,
		Date:         ticket.TicketDate,
		Time:         ticket.CreatedAt.In(s.policy.Location).Format("15:04:05"),
		QREnabled:    settings.QREnabled,
	})
	if err != nil {
		s.logger.Error("encode print payload", "ticket_id", ticket.TicketID, "error", err)
		return
	}
	job, err := s.store.CreatePrintJob(ctx, ticket.TicketID, payload, s.clock.Now())
	if err != nil {
		s.logger.Error("create print job", "ticket_id", ticket.TicketID, "error", err)
		return
	}
	printJobsQueued.Add(1)
	s.logger.Info("print job queued", "job_id", job.JobID, "ticket_number", ticket.TicketNumber)
}

func encodePrintPayload(payload models.PrintPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ClaimPrintJob hands the oldest pending job to a print agent. The bool is
// false when nothing is pending.
func (s *Service) ClaimPrintJob(ctx context.Context) (models.PrintJob, bool, error) {
	return s.store.ClaimPrintJob(ctx, s.clock.Now())
}

func (s *Service) AckPrintJob(ctx context.Context, input AckInput) (models.PrintJob, error) {
	job, err := s.store.CompletePrintJob(ctx, input.JobID, input.Success, strings.TrimSpace(input.Error), s.clock.Now())
	if err != nil {
		return models.PrintJob{}, err
	}
	if !input.Success {
		s.logger.Warn("print job failed", "job_id", job.JobID, "ticket_id", job.TicketID, "reason", input.Error)
	}
	return job, nil
}

// RequeueStalePrintJobs puts jobs claimed more than staleAfter ago back in
// the pending queue so another agent can print them.
func (s *Service) RequeueStalePrintJobs(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	if staleAfter <= 0 {
		return 0, nil
	}
	count, err := s.store.RequeueStalePrintJobs(ctx, s.clock.Now().Add(-staleAfter), limit)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		printJobsRequeued.Add(int64(count))
		s.logger.Warn("stale print jobs requeued", "count", count)
	}
	return count, nil
}
