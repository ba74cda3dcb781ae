package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/savichev/replypilot/pkg/models"
)

// CreateJob inserts a new reply job
func (db *DB) CreateJob(ctx context.Context, job *models.ReplyJob) error {
	query := `
		INSERT INTO reply_jobs (id, account, recipient, subject, body, status, attempts, max_attempts, last_error, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
	_, err := db.ExecContext(ctx, query,
		job.ID,
		job.Account,
		job.Recipient,
		job.Subject,
		job.Body,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		job.NextAttemptAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetJobByID returns a job by ID
func (db *DB) GetJobByID(ctx context.Context, id string) (*models.ReplyJob, error) {
	var job models.ReplyJob
	query := `SELECT * FROM reply_jobs WHERE id = ?`
	err := db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimJob atomically claims the oldest due pending job, moving it to
// in_flight. Returns ErrNotFound when no job is due. The transaction
// guarantees at most one worker claims a given job.
func (db *DB) ClaimJob(ctx context.Context, now time.Time) (*models.ReplyJob, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job models.ReplyJob
	query := `
		SELECT * FROM reply_jobs
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at
		LIMIT 1
	`
	err = tx.GetContext(ctx, &job, query, models.JobPending, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select due job: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reply_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobInFlight, now, job.ID, models.JobPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = models.JobInFlight
	job.UpdatedAt = now
	return &job, nil
}

// CompleteJob marks a job as completed
func (db *DB) CompleteJob(ctx context.Context, id string) error {
	query := `UPDATE reply_jobs SET status = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, models.JobCompleted, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// RescheduleJob records a failed attempt and makes the job eligible again
// at nextAttemptAt
func (db *DB) RescheduleJob(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE reply_jobs
		SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := db.ExecContext(ctx, query, models.JobPending, attempts, lastError, nextAttemptAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// FailJob marks a job as failed after its attempts are exhausted
func (db *DB) FailJob(ctx context.Context, id string, attempts int, lastError string) error {
	query := `
		UPDATE reply_jobs
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := db.ExecContext(ctx, query, models.JobFailed, attempts, lastError, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// RequeueInFlightJobs moves all in_flight jobs back to pending. Called on
// startup so deliveries interrupted by a crash are attempted again.
func (db *DB) RequeueInFlightJobs(ctx context.Context) (int64, error) {
	query := `UPDATE reply_jobs SET status = ?, updated_at = ? WHERE status = ?`
	result, err := db.ExecContext(ctx, query, models.JobPending, time.Now(), models.JobInFlight)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue in-flight jobs: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// ListJobsByStatus returns jobs in the given status, oldest first
func (db *DB) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.ReplyJob, error) {
	var jobs []*models.ReplyJob
	query := `SELECT * FROM reply_jobs WHERE status = ? ORDER BY created_at`
	err := db.SelectContext(ctx, &jobs, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
