package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const printJobColumns = `job_id, ticket_id, payload, status, last_error, created_at, claimed_at, completed_at`

func scanPrintJob(row pgx.Row) (models.PrintJob, error) {
	var job models.PrintJob
	var lastErrorNull sql.NullString
	var claimedAtNull sql.NullTime
	var completedAtNull sql.NullTime
	if err := row.Scan(&job.JobID, &job.TicketID, &job.Payload, &job.Status, &lastErrorNull, &job.CreatedAt, &claimedAtNull, &completedAtNull); err != nil {
		return models.PrintJob{}, err
	}
	job.LastError = nullStringPtr(lastErrorNull)
	job.ClaimedAt = nullTimePtr(claimedAtNull)
	job.CompletedAt = nullTimePtr(completedAtNull)
	return job, nil
}

func (s *Store) CreatePrintJob(ctx context.Context, ticketID, payload string, createdAt time.Time) (models.PrintJob, error) {
	job, err := scanPrintJob(s.pool.QueryRow(ctx, `
		INSERT INTO print_jobs (job_id, ticket_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+printJobColumns,
		uuid.NewString(), ticketID, payload, models.PrintJobPending, createdAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.PrintJob{}, store.ErrTicketNotFound
		}
		return models.PrintJob{}, err
	}
	return job, nil
}

// ClaimPrintJob hands the oldest pending job to one print agent. Agents
// polling concurrently skip rows another agent has locked.
func (s *Store) ClaimPrintJob(ctx context.Context, claimedAt time.Time) (models.PrintJob, bool, error) {
	job, err := scanPrintJob(s.pool.QueryRow(ctx, `
		WITH next_job AS (
			SELECT job_id
			FROM print_jobs
			WHERE status = $1
			ORDER BY created_at ASC, job_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE print_jobs
		SET status = $2,
			claimed_at = $3
		FROM next_job
		WHERE print_jobs.job_id = next_job.job_id
		RETURNING print_jobs.job_id, print_jobs.ticket_id, print_jobs.payload, print_jobs.status, print_jobs.last_error, print_jobs.created_at, print_jobs.claimed_at, print_jobs.completed_at
	`, models.PrintJobPending, models.PrintJobProcessing, claimedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PrintJob{}, false, nil
		}
		return models.PrintJob{}, false, err
	}
	return job, true, nil
}

func (s *Store) CompletePrintJob(ctx context.Context, jobID string, success bool, reason string, completedAt time.Time) (models.PrintJob, error) {
	status := models.PrintJobCompleted
	var lastError interface{}
	if !success {
		status = models.PrintJobFailed
		lastError = nullIfEmpty(reason)
	}
	job, err := scanPrintJob(s.pool.QueryRow(ctx, `
		UPDATE print_jobs
		SET status = $2,
			last_error = $3,
			completed_at = $4
		WHERE job_id = $1 AND status = $5
		RETURNING `+printJobColumns,
		jobID, status, lastError, completedAt, models.PrintJobProcessing))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM print_jobs WHERE job_id = $1)`, jobID).Scan(&exists); err != nil {
				return models.PrintJob{}, err
			}
			if !exists {
				return models.PrintJob{}, store.ErrPrintJobNotFound
			}
			return models.PrintJob{}, store.ErrInvalidState
		}
		return models.PrintJob{}, err
	}
	return job, nil
}

// RequeueStalePrintJobs releases jobs whose agent claimed them and never
// acknowledged, oldest claim first.
func (s *Store) RequeueStalePrintJobs(ctx context.Context, claimedBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.pool.Exec(ctx, `
		WITH stale AS (
			SELECT job_id
			FROM print_jobs
			WHERE status = $1 AND claimed_at < $2
			ORDER BY claimed_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		UPDATE print_jobs
		SET status = $4,
			claimed_at = NULL
		FROM stale
		WHERE print_jobs.job_id = stale.job_id
	`, models.PrintJobProcessing, claimedBefore, limit, models.PrintJobPending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
