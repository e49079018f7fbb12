package models

import (
	"fmt"
	"strings"
	"time"
)

type QueueType string

const (
	QueueReg  QueueType = "REG"
	QueueTech QueueType = "TECH"
)

// QueueTypes lists every lane in display order.
var QueueTypes = []QueueType{QueueReg, QueueTech}

func ParseQueueType(value string) (QueueType, bool) {
	switch QueueType(strings.ToUpper(strings.TrimSpace(value))) {
	case QueueReg:
		return QueueReg, true
	case QueueTech:
		return QueueTech, true
	default:
		return "", false
	}
}

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber string     `json:"ticket_number"`
	Sequence     int64      `json:"sequence"`
	QueueType    QueueType  `json:"queue_type"`
	Status       string     `json:"status"`
	TicketDate   string     `json:"ticket_date"`
	IssuedBy     string     `json:"issued_by"`
	RequestID    string     `json:"request_id,omitempty"`
	OperatorID   *string    `json:"operator_id,omitempty"`
	WindowLabel  *string    `json:"window_label,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	RepeatAt     *time.Time `json:"repeat_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

const (
	StatusWaiting   = "WAITING"
	StatusCalled    = "CALLED"
	StatusServing   = "SERVING"
	StatusDone      = "DONE"
	StatusNoShow    = "NO_SHOW"
	StatusCancelled = "CANCELLED"
)

// ActiveStatuses are the statuses of a ticket that currently holds a window.
// CALLED is only read, never written.
var ActiveStatuses = []string{StatusCalled, StatusServing}

func IsActive(status string) bool {
	return status == StatusCalled || status == StatusServing
}

func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusNoShow, StatusCancelled:
		return true
	default:
		return false
	}
}

// FormatTicketNumber renders the display number, e.g. ("R", 7, 3) -> "R-007".
func FormatTicketNumber(prefix string, sequence int64, pad int) string {
	if pad < 0 {
		pad = 0
	}
	return fmt.Sprintf("%s-%0*d", prefix, pad, sequence)
}
