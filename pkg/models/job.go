package models

import "time"

// JobStatus is the lifecycle state of a reply job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobInFlight  JobStatus = "in_flight"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ReplyJob is a durable unit of work representing one reply awaiting delivery.
// It is created by the drafter and owned by the queue until it reaches a
// terminal status.
type ReplyJob struct {
	ID            string    `db:"id"`
	Account       string    `db:"account"`         // Mailbox account the reply originates from
	Recipient     string    `db:"recipient"`       // Original sender's address
	Subject       string    `db:"subject"`         // Reply subject line
	Body          string    `db:"body"`            // Generated reply text
	Status        JobStatus `db:"status"`          // pending, in_flight, completed, failed
	Attempts      int       `db:"attempts"`        // Delivery attempts made so far
	MaxAttempts   int       `db:"max_attempts"`    // Attempts before the job is failed
	LastError     string    `db:"last_error"`      // Error from the most recent attempt
	NextAttemptAt time.Time `db:"next_attempt_at"` // Earliest time the job may be claimed
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
