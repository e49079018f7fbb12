package store

import (
	"context"
	"time"

	"qms/walkin-queue/internal/models"
)

type CreateTicketInput struct {
	RequestID  string
	QueueType  models.QueueType
	TicketDate string
	IssuedBy   string
	Prefix     string
	Pad        int
	CreatedAt  time.Time
	// Now stamps created_at after the sequence is allocated, while the
	// counter is still held, so creation order matches numbering. CreatedAt
	// is used when Now is nil.
	Now func() time.Time
}

// Stamp returns the created_at for a ticket whose sequence was just taken.
func (in CreateTicketInput) Stamp() time.Time {
	if in.Now != nil {
		return in.Now().UTC()
	}
	if in.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return in.CreatedAt
}

// ClaimInput moves a WAITING ticket into its lane's current slot.
type ClaimInput struct {
	TicketID    string
	QueueType   models.QueueType
	OperatorID  string
	WindowLabel string
	CalledAt    time.Time
}

// TicketUpdate is a conditional single-row update: it applies only while the
// ticket status is one of From. Nil fields are left untouched.
type TicketUpdate struct {
	TicketID   string
	From       []string
	Status     string
	RepeatAt   *time.Time
	FinishedAt *time.Time
}

const (
	OrderCreatedAsc = "created_asc"
	OrderCalledDesc = "called_desc"
)

type TicketQuery struct {
	QueueType   models.QueueType
	Statuses    []string
	DateFrom    string
	DateTo      string
	CalledOnly  bool
	CalledAfter *time.Time
	OrderBy     string
	Limit       int
}

type TicketStore interface {
	// CreateTicket allocates the next sequence for (queue_type, ticket_date)
	// and inserts the ticket atomically. The bool is false when RequestID
	// matched an earlier issuance and that ticket is returned instead.
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, query TicketQuery) ([]models.Ticket, error)
	// NextWaiting returns the oldest WAITING ticket of a lane, ordered by
	// created_at then ticket id.
	NextWaiting(ctx context.Context, queueType models.QueueType) (models.Ticket, error)
	// ClaimTicket fails with ErrConflict when the ticket is no longer WAITING
	// or another claim took the lane first. The previously current ticket of
	// the lane, if still active, is finished in the same write.
	ClaimTicket(ctx context.Context, input ClaimInput) (models.Ticket, error)
	UpdateTicket(ctx context.Context, update TicketUpdate) (models.Ticket, error)
}

type PrintJobStore interface {
	CreatePrintJob(ctx context.Context, ticketID, payload string, createdAt time.Time) (models.PrintJob, error)
	ClaimPrintJob(ctx context.Context, claimedAt time.Time) (models.PrintJob, bool, error)
	CompletePrintJob(ctx context.Context, jobID string, success bool, reason string, completedAt time.Time) (models.PrintJob, error)
	// RequeueStalePrintJobs returns PROCESSING jobs claimed before the cutoff
	// to PENDING and reports how many moved.
	RequeueStalePrintJobs(ctx context.Context, claimedBefore time.Time, limit int) (int, error)
}

type SettingsStore interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, values map[string]string, updatedAt time.Time) error
}

type Store interface {
	TicketStore
	PrintJobStore
	SettingsStore
}
