// Package queue is the durable reply queue decoupling drafting from
// delivery. Jobs are persisted before Enqueue returns, claimed by exactly
// one worker at a time, retried with backoff and surfaced through observer
// callbacks once they reach a terminal status.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savichev/replypilot/internal/database"
	"github.com/savichev/replypilot/internal/transport"
	"github.com/savichev/replypilot/pkg/models"
)

// Observer is notified when a job reaches a terminal status. Callbacks run
// on the worker goroutine and should return quickly.
type Observer func(job *models.ReplyJob)

// Options for the queue
type Options struct {
	Workers      int           // concurrent delivery workers, default 1
	MaxAttempts  int           // delivery attempts before a job is failed
	BackoffBase  time.Duration // first retry delay
	BackoffMax   time.Duration // retry delay cap
	PollInterval time.Duration // how often idle workers look for due jobs
	SendTimeout  time.Duration // per-attempt delivery timeout
}

// Queue is the durable reply queue
type Queue struct {
	db     *database.DB
	sender transport.Sender
	opts   Options
	logger *slog.Logger

	onCompleted Observer
	onFailed    Observer

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a new queue
func New(db *database.DB, sender transport.Sender, opts Options, logger *slog.Logger) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 30 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}

	return &Queue{
		db:     db,
		sender: sender,
		opts:   opts,
		logger: logger.With("component", "queue"),
		wake:   make(chan struct{}, 1),
	}
}

// OnCompleted sets the observer for completed jobs
func (q *Queue) OnCompleted(fn Observer) {
	q.onCompleted = fn
}

// OnFailed sets the observer for failed jobs
func (q *Queue) OnFailed(fn Observer) {
	q.onFailed = fn
}

// Enqueue durably records a job. It returns once the row is committed,
// independent of delivery.
func (q *Queue) Enqueue(ctx context.Context, job *models.ReplyJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.JobPending
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}

	if err := q.db.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info("job enqueued", "job_id", job.ID, "recipient", job.Recipient)

	// Nudge an idle worker; losing the nudge is fine, the poll interval
	// picks the job up anyway
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Recover requeues jobs that were in flight when the process last stopped.
// Call once on startup, before Start.
func (q *Queue) Recover(ctx context.Context) error {
	n, err := q.db.RequeueInFlightJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Info("requeued interrupted jobs", "count", n)
	}
	return nil
}

// Start launches the delivery workers. They run until ctx is cancelled;
// Wait blocks until they have drained.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Wait blocks until all workers have stopped
func (q *Queue) Wait() {
	q.wg.Wait()
}

// worker claims and delivers jobs until the context is cancelled
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	logger := q.logger.With("worker", id)
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		q.drain(ctx, logger)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// drain delivers due jobs until none are left or the context is cancelled
func (q *Queue) drain(ctx context.Context, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.db.ClaimJob(ctx, time.Now())
		if errors.Is(err, database.ErrNotFound) {
			return
		}
		if err != nil {
			logger.Error("failed to claim job", "error", err)
			return
		}

		q.deliver(ctx, logger, job)
	}
}

// deliver makes one delivery attempt for a claimed job
func (q *Queue) deliver(ctx context.Context, logger *slog.Logger, job *models.ReplyJob) {
	sendCtx, cancel := context.WithTimeout(ctx, q.opts.SendTimeout)
	messageID, sendErr := q.sender.Send(sendCtx, job.Recipient, job.Subject, job.Body)
	cancel()

	// Status updates must land even when ctx is being cancelled, or the
	// attempt would be double-counted after restart
	updateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sendErr == nil {
		if err := q.db.CompleteJob(updateCtx, job.ID); err != nil {
			logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
			return
		}
		job.Status = models.JobCompleted
		job.Attempts++
		logger.Info("job completed", "job_id", job.ID, "recipient", job.Recipient, "message_id", messageID)
		if q.onCompleted != nil {
			q.onCompleted(job)
		}
		return
	}

	job.Attempts++
	job.LastError = sendErr.Error()

	if job.Attempts >= job.MaxAttempts {
		if err := q.db.FailJob(updateCtx, job.ID, job.Attempts, job.LastError); err != nil {
			logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
			return
		}
		job.Status = models.JobFailed
		logger.Error("job failed, attempts exhausted",
			"job_id", job.ID, "recipient", job.Recipient, "attempts", job.Attempts, "error", sendErr)
		if q.onFailed != nil {
			q.onFailed(job)
		}
		return
	}

	delay := backoff(job.Attempts, q.opts.BackoffBase, q.opts.BackoffMax)
	nextAttempt := time.Now().Add(delay)
	if err := q.db.RescheduleJob(updateCtx, job.ID, job.Attempts, job.LastError, nextAttempt); err != nil {
		logger.Error("failed to reschedule job", "job_id", job.ID, "error", err)
		return
	}
	job.Status = models.JobPending
	logger.Warn("delivery attempt failed, job rescheduled",
		"job_id", job.ID, "attempt", job.Attempts, "retry_in", delay, "error", sendErr)
}
