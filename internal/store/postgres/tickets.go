package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if input.RequestID != "" {
		existing, found, err := findTicketByRequestID(ctx, s.pool, input.RequestID)
		if err != nil {
			return models.Ticket{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, fmt.Errorf("%w: %v", store.ErrAllocationFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := nextSequence(ctx, tx, input.QueueType, input.TicketDate)
	if err != nil {
		err = fmt.Errorf("%w: %v", store.ErrAllocationFailed, err)
		return models.Ticket{}, false, err
	}

	// The counter row stays locked until commit, so a stamp taken here is
	// ordered after every earlier number of the lane.
	createdAt := input.Stamp()

	ticket, err := scanTicket(tx.QueryRow(ctx, `
		INSERT INTO queue_tickets (
			ticket_id, ticket_number, sequence, queue_type, status, ticket_date, issued_by, request_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns,
		uuid.NewString(), models.FormatTicketNumber(input.Prefix, seq, input.Pad), seq, string(input.QueueType),
		models.StatusWaiting, input.TicketDate, input.IssuedBy, nullIfEmpty(input.RequestID), createdAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent issuance with the same request id won; the
			// rollback returns the sequence we took.
			_ = tx.Rollback(ctx)
			existing, found, lookupErr := findTicketByRequestID(ctx, s.pool, input.RequestID)
			if lookupErr != nil {
				return models.Ticket{}, false, lookupErr
			}
			if found {
				return existing, false, nil
			}
		}
		if isUniqueViolation(err) {
			err = fmt.Errorf("%w: %v", store.ErrAllocationFailed, err)
		}
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// nextSequence is the counter allocator: one atomic increment-and-read on the
// (queue_type, ticket_date) row. The row lock it takes is held until the
// surrounding transaction ends, so a rolled back insert never leaves a gap.
func nextSequence(ctx context.Context, tx pgx.Tx, queueType models.QueueType, ticketDate string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_counters (queue_type, ticket_date, last_sequence)
		VALUES ($1, $2, 1)
		ON CONFLICT (queue_type, ticket_date)
		DO UPDATE SET last_sequence = queue_counters.last_sequence + 1
		RETURNING last_sequence
	`, string(queueType), ticketDate)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findTicketByRequestID(ctx context.Context, q queryRower, requestID string) (models.Ticket, bool, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM queue_tickets WHERE request_id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM queue_tickets WHERE ticket_id = $1`, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, query store.TicketQuery) ([]models.Ticket, error) {
	var conditions []string
	var args []interface{}
	add := func(format string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}

	if query.QueueType != "" {
		add("queue_type = $%d", string(query.QueueType))
	}
	if len(query.Statuses) > 0 {
		add("status = ANY($%d)", query.Statuses)
	}
	if query.DateFrom != "" {
		add("ticket_date >= $%d::date", query.DateFrom)
	}
	if query.DateTo != "" {
		add("ticket_date <= $%d::date", query.DateTo)
	}
	if query.CalledOnly {
		conditions = append(conditions, "called_at IS NOT NULL")
	}
	if query.CalledAfter != nil {
		add("called_at > $%d", *query.CalledAfter)
	}

	sqlText := `SELECT ` + ticketColumns + ` FROM queue_tickets`
	if len(conditions) > 0 {
		sqlText += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch query.OrderBy {
	case store.OrderCalledDesc:
		sqlText += " ORDER BY called_at DESC NULLS LAST, ticket_id DESC"
	default:
		sqlText += " ORDER BY created_at ASC, sequence ASC, ticket_id ASC"
	}
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlText += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

func (s *Store) NextWaiting(ctx context.Context, queueType models.QueueType) (models.Ticket, error) {
	ticket, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE queue_type = $1 AND status = $2
		ORDER BY created_at ASC, sequence ASC, ticket_id ASC
		LIMIT 1
	`, string(queueType), models.StatusWaiting))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrNoWaitingTickets
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// ClaimTicket performs two compare-and-swap writes: the ticket must still be
// WAITING, and the lane's current slot must still hold what was read at the
// start. Either one affecting zero rows is reported as ErrConflict.
func (s *Store) ClaimTicket(ctx context.Context, input store.ClaimInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var previous sql.NullString
	err = tx.QueryRow(ctx, `SELECT current_ticket_id::text FROM queue_lanes WHERE queue_type = $1`, string(input.QueueType)).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, err
	}
	err = nil

	ticket, err := scanTicket(tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET status = $3,
			operator_id = $4,
			window_label = $5,
			called_at = $6,
			started_at = $6
		WHERE ticket_id = $1 AND queue_type = $2 AND status = $7
		RETURNING `+ticketColumns,
		input.TicketID, string(input.QueueType), models.StatusServing, input.OperatorID, input.WindowLabel, input.CalledAt, models.StatusWaiting))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}

	var previousParam interface{}
	if previous.Valid {
		previousParam = previous.String
	}
	var lane string
	err = tx.QueryRow(ctx, `
		INSERT INTO queue_lanes (queue_type, current_ticket_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue_type) DO UPDATE
		SET current_ticket_id = EXCLUDED.current_ticket_id,
			updated_at = EXCLUDED.updated_at
		WHERE queue_lanes.current_ticket_id IS NOT DISTINCT FROM $4::uuid
		RETURNING queue_type
	`, string(input.QueueType), ticket.TicketID, input.CalledAt, previousParam).Scan(&lane)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE queue_tickets
		SET status = $3, finished_at = $4
		WHERE queue_type = $1 AND ticket_id <> $2 AND status = ANY($5)
	`, string(input.QueueType), ticket.TicketID, models.StatusDone, input.CalledAt, models.ActiveStatuses); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) UpdateTicket(ctx context.Context, update store.TicketUpdate) (models.Ticket, error) {
	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != "" {
		set("status", update.Status)
	}
	if update.RepeatAt != nil {
		set("repeat_at", *update.RepeatAt)
	}
	if update.FinishedAt != nil {
		set("finished_at", *update.FinishedAt)
	}
	if len(sets) == 0 {
		return models.Ticket{}, fmt.Errorf("update ticket %s: no fields to set", update.TicketID)
	}

	args = append(args, update.TicketID, update.From)
	query := fmt.Sprintf(`
		UPDATE queue_tickets
		SET %s
		WHERE ticket_id = $%d AND status = ANY($%d)
		RETURNING `+ticketColumns, strings.Join(sets, ", "), len(args)-1, len(args))

	ticket, err := scanTicket(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, stateErr := ticketExists(ctx, s.pool, update.TicketID)
			if stateErr != nil {
				return models.Ticket{}, stateErr
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrInvalidState
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func ticketExists(ctx context.Context, q queryRower, ticketID string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_tickets WHERE ticket_id = $1)`, ticketID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
