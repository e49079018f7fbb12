package models

import "time"

type PrintJob struct {
	JobID       string     `json:"job_id"`
	TicketID    string     `json:"ticket_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const (
	PrintJobPending    = "PENDING"
	PrintJobProcessing = "PROCESSING"
	PrintJobCompleted  = "COMPLETED"
	PrintJobFailed     = "FAILED"
)

// PrintPayload is the document handed to the local print agent, base64 encoded.
type PrintPayload struct {
	TicketNumber string    `json:"ticket_number"`
	QueueType    QueueType `json:"queue_type"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	QREnabled    bool      `json:"qr_enabled"`
}
