package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
)

// Store keeps queue state in process. Every method takes the single mutex for
// its whole duration, which gives the same per-record atomicity the Postgres
// store gets from conditional updates.
type Store struct {
	mu        sync.Mutex
	tickets   map[string]models.Ticket
	requests  map[string]string
	counters  map[counterKey]int64
	lanes     map[models.QueueType]string
	printJobs map[string]models.PrintJob
	settings  map[string]string

	// allocate is swapped by tests to simulate an unavailable counter.
	allocate func(key counterKey) (int64, error)
}

type counterKey struct {
	queueType  models.QueueType
	ticketDate string
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	s := &Store{
		tickets:   make(map[string]models.Ticket),
		requests:  make(map[string]string),
		counters:  make(map[counterKey]int64),
		lanes:     make(map[models.QueueType]string),
		printJobs: make(map[string]models.PrintJob),
		settings:  make(map[string]string),
	}
	s.allocate = s.nextSequence
	return s
}

func (s *Store) nextSequence(key counterKey) (int64, error) {
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if id, ok := s.requests[input.RequestID]; ok {
			return s.tickets[id], false, nil
		}
	}

	seq, err := s.allocate(counterKey{queueType: input.QueueType, ticketDate: input.TicketDate})
	if err != nil {
		return models.Ticket{}, false, fmt.Errorf("%w: %v", store.ErrAllocationFailed, err)
	}

	createdAt := input.Stamp()
	ticket := models.Ticket{
		TicketID:     uuid.NewString(),
		TicketNumber: models.FormatTicketNumber(input.Prefix, seq, input.Pad),
		Sequence:     seq,
		QueueType:    input.QueueType,
		Status:       models.StatusWaiting,
		TicketDate:   input.TicketDate,
		IssuedBy:     input.IssuedBy,
		RequestID:    input.RequestID,
		CreatedAt:    createdAt,
	}
	s.tickets[ticket.TicketID] = ticket
	if input.RequestID != "" {
		s.requests[input.RequestID] = ticket.TicketID
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, query store.TicketQuery) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Ticket
	for _, ticket := range s.tickets {
		if matches(ticket, query) {
			out = append(out, ticket)
		}
	}

	switch query.OrderBy {
	case store.OrderCalledDesc:
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].CalledAt, out[j].CalledAt
			if a == nil || b == nil {
				return b == nil && a != nil
			}
			if !a.Equal(*b) {
				return a.After(*b)
			}
			return out[i].TicketID > out[j].TicketID
		})
	default:
		sortFIFO(out)
	}

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func matches(ticket models.Ticket, query store.TicketQuery) bool {
	if query.QueueType != "" && ticket.QueueType != query.QueueType {
		return false
	}
	if len(query.Statuses) > 0 && !contains(query.Statuses, ticket.Status) {
		return false
	}
	if query.DateFrom != "" && ticket.TicketDate < query.DateFrom {
		return false
	}
	if query.DateTo != "" && ticket.TicketDate > query.DateTo {
		return false
	}
	if (query.CalledOnly || query.CalledAfter != nil) && ticket.CalledAt == nil {
		return false
	}
	if query.CalledAfter != nil && !ticket.CalledAt.After(*query.CalledAfter) {
		return false
	}
	return true
}

func sortFIFO(tickets []models.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
		}
		if tickets[i].Sequence != tickets[j].Sequence {
			return tickets[i].Sequence < tickets[j].Sequence
		}
		return tickets[i].TicketID < tickets[j].TicketID
	})
}

func (s *Store) NextWaiting(ctx context.Context, queueType models.QueueType) (models.Ticket, error) {
	tickets, err := s.ListTickets(ctx, store.TicketQuery{
		QueueType: queueType,
		Statuses:  []string{models.StatusWaiting},
		OrderBy:   store.OrderCreatedAsc,
		Limit:     1,
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if len(tickets) == 0 {
		return models.Ticket{}, store.ErrNoWaitingTickets
	}
	return tickets[0], nil
}

func (s *Store) ClaimTicket(ctx context.Context, input store.ClaimInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok || ticket.QueueType != input.QueueType || ticket.Status != models.StatusWaiting {
		return models.Ticket{}, store.ErrConflict
	}

	calledAt := input.CalledAt
	if previousID, ok := s.lanes[input.QueueType]; ok {
		if previous, ok := s.tickets[previousID]; ok && models.IsActive(previous.Status) {
			previous.Status = models.StatusDone
			previous.FinishedAt = timePtr(calledAt)
			s.tickets[previousID] = previous
		}
	}

	operator := input.OperatorID
	window := input.WindowLabel
	ticket.Status = models.StatusServing
	ticket.OperatorID = &operator
	ticket.WindowLabel = &window
	ticket.CalledAt = timePtr(calledAt)
	ticket.StartedAt = timePtr(calledAt)
	s.tickets[ticket.TicketID] = ticket
	s.lanes[input.QueueType] = ticket.TicketID
	return ticket, nil
}

func (s *Store) UpdateTicket(ctx context.Context, update store.TicketUpdate) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[update.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !contains(update.From, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	if update.Status != "" {
		ticket.Status = update.Status
	}
	if update.RepeatAt != nil {
		ticket.RepeatAt = timePtr(*update.RepeatAt)
	}
	if update.FinishedAt != nil {
		ticket.FinishedAt = timePtr(*update.FinishedAt)
	}
	s.tickets[ticket.TicketID] = ticket
	return ticket, nil
}

func (s *Store) CreatePrintJob(ctx context.Context, ticketID, payload string, createdAt time.Time) (models.PrintJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticketID]; !ok {
		return models.PrintJob{}, store.ErrTicketNotFound
	}
	job := models.PrintJob{
		JobID:     uuid.NewString(),
		TicketID:  ticketID,
		Payload:   payload,
		Status:    models.PrintJobPending,
		CreatedAt: createdAt,
	}
	s.printJobs[job.JobID] = job
	return job, nil
}

func (s *Store) ClaimPrintJob(ctx context.Context, claimedAt time.Time) (models.PrintJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.PrintJob
	for _, job := range s.printJobs {
		if job.Status != models.PrintJobPending {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.JobID < next.JobID) {
			candidate := job
			next = &candidate
		}
	}
	if next == nil {
		return models.PrintJob{}, false, nil
	}
	next.Status = models.PrintJobProcessing
	next.ClaimedAt = timePtr(claimedAt)
	s.printJobs[next.JobID] = *next
	return *next, true, nil
}

func (s *Store) CompletePrintJob(ctx context.Context, jobID string, success bool, reason string, completedAt time.Time) (models.PrintJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.printJobs[jobID]
	if !ok {
		return models.PrintJob{}, store.ErrPrintJobNotFound
	}
	if job.Status != models.PrintJobProcessing {
		return models.PrintJob{}, store.ErrInvalidState
	}
	job.Status = models.PrintJobCompleted
	if !success {
		job.Status = models.PrintJobFailed
		if reason != "" {
			job.LastError = &reason
		}
	}
	job.CompletedAt = timePtr(completedAt)
	s.printJobs[jobID] = job
	return job, nil
}

func (s *Store) RequeueStalePrintJobs(ctx context.Context, claimedBefore time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.PrintJob
	for _, job := range s.printJobs {
		if job.Status == models.PrintJobProcessing && job.ClaimedAt != nil && job.ClaimedAt.Before(claimedBefore) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].ClaimedAt.Before(*stale[j].ClaimedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, job := range stale {
		job.Status = models.PrintJobPending
		job.ClaimedAt = nil
		s.printJobs[job.JobID] = job
	}
	return len(stale), nil
}

func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveSettings(ctx context.Context, values map[string]string, updatedAt time.Time) error {
	if values == nil {
		return errors.New("settings values are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.settings[k] = v
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time {
	return &t
}
