package postgres

import (
	"database/sql"
	"errors"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `ticket_id, ticket_number, sequence, queue_type, status, to_char(ticket_date, 'YYYY-MM-DD'), issued_by, request_id, operator_id, window_label, created_at, called_at, repeat_at, started_at, finished_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var queueType string
	var requestIDNull sql.NullString
	var operatorNull sql.NullString
	var windowNull sql.NullString
	var calledAtNull sql.NullTime
	var repeatAtNull sql.NullTime
	var startedAtNull sql.NullTime
	var finishedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.Sequence, &queueType, &ticket.Status, &ticket.TicketDate, &ticket.IssuedBy, &requestIDNull, &operatorNull, &windowNull, &ticket.CreatedAt, &calledAtNull, &repeatAtNull, &startedAtNull, &finishedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.QueueType = models.QueueType(queueType)
	if requestIDNull.Valid {
		ticket.RequestID = requestIDNull.String
	}
	ticket.OperatorID = nullStringPtr(operatorNull)
	ticket.WindowLabel = nullStringPtr(windowNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.RepeatAt = nullTimePtr(repeatAtNull)
	ticket.StartedAt = nullTimePtr(startedAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	return ticket, nil
}

func scanTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
