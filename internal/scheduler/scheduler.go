// Package scheduler drives discovery for one mailbox: list unread messages,
// extract, classify, draft, enqueue, then mark each message read. Marking
// read comes last so any earlier failure leaves the message unread and it is
// retried on the next cycle; the provider's unread flag is the only
// idempotency ledger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/savichev/replypilot/internal/envelope"
	"github.com/savichev/replypilot/internal/mailbox"
	"github.com/savichev/replypilot/pkg/models"
)

// Enqueuer records a reply job durably
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.ReplyJob) error
}

// Classifier categorizes a message body
type Classifier interface {
	Classify(ctx context.Context, bodyText string) models.Classification
}

// Drafter builds a reply job for a classified message
type Drafter interface {
	Draft(ctx context.Context, cl models.Classification, senderName, senderEmail string) (*models.ReplyJob, error)
}

// Options for one mailbox scheduler
type Options struct {
	Account     string
	Interval    time.Duration // fixed poll rate
	CallTimeout time.Duration // bound on each external call

	// Authorize runs once before the loop starts; an error is fatal for
	// this mailbox. For OAuth accounts this is the credential store's
	// first acquisition, for IMAP accounts the initial connect.
	Authorize func(ctx context.Context) error
}

// Scheduler polls one mailbox and feeds the pipeline
type Scheduler struct {
	opts       Options
	provider   mailbox.Provider
	extractor  *envelope.Extractor
	classifier Classifier
	drafter    Drafter
	queue      Enqueuer
	logger     *slog.Logger
}

// New creates a scheduler for one mailbox
func New(opts Options, provider mailbox.Provider, extractor *envelope.Extractor, classifier Classifier, drafter Drafter, queue Enqueuer, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Scheduler{
		opts:       opts,
		provider:   provider,
		extractor:  extractor,
		classifier: classifier,
		drafter:    drafter,
		queue:      queue,
		logger:     logger.With("component", "scheduler", "account", opts.Account),
	}
}

// Account returns the mailbox account this scheduler polls
func (s *Scheduler) Account() string {
	return s.opts.Account
}

// Run authorizes the mailbox and polls until ctx is cancelled. Cycles run at
// a fixed rate; a cycle that outlasts the interval defers the next tick
// instead of overlapping it, since the loop is single-flighted. Cancellation
// lets the in-flight message finish and suppresses the next cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Authorize != nil {
		if err := s.opts.Authorize(ctx); err != nil {
			return fmt.Errorf("failed to authorize mailbox %s: %w", s.opts.Account, err)
		}
	}

	s.logger.Info("scheduler started", "interval", s.opts.Interval)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one poll: list unread messages and process them in order.
// A listing failure skips the cycle; per-message failures are isolated so
// one bad message cannot stop the mailbox's progress.
func (s *Scheduler) cycle(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	ids, err := s.provider.ListUnread(listCtx)
	cancel()
	if err != nil {
		s.logger.Error("failed to list unread messages", "error", err)
		return
	}

	if len(ids) == 0 {
		s.logger.Debug("no unread messages")
		return
	}
	s.logger.Info("unread messages found", "count", len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := s.process(ctx, id); err != nil {
			s.logger.Error("failed to process message, left unread for next cycle",
				"message_id", id, "error", err)
		}
	}
}

// process runs the per-message pipeline and marks the message read only
// after every earlier step succeeded
func (s *Scheduler) process(ctx context.Context, id string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	raw, err := s.provider.Fetch(fetchCtx, id)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	msg := s.extractor.Extract(raw)

	if msg.BodyText != "" {
		classifyCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		cl := s.classifier.Classify(classifyCtx, msg.BodyText)
		cancel()
		if cl.Category == models.CategoryError {
			return fmt.Errorf("classify: %w", cl.Err)
		}

		s.logger.Info("message classified",
			"message_id", id, "sender", msg.SenderEmail, "category", cl.Category)

		draftCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		job, err := s.drafter.Draft(draftCtx, cl, msg.SenderName, msg.SenderEmail)
		cancel()
		if err != nil {
			return fmt.Errorf("draft: %w", err)
		}

		if err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
	} else {
		// Nothing to classify or answer; still clear the unread flag so
		// the message stops coming back every cycle
		s.logger.Info("message has no text body, skipping reply", "message_id", id)
	}

	markCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	if err := s.provider.MarkRead(markCtx, id); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
