// Package reply drafts outbound replies for classified messages.
package reply

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/savichev/replypilot/internal/genai"
	"github.com/savichev/replypilot/pkg/models"
)

// replySubject is the fixed subject line for generated replies
const replySubject = "Reply to Your Inquiry"

const promptTemplate = `Write a suitable reply for the email having category %q and email body as %q. The name of the sender is %q.`

// Drafter builds reply jobs from classified messages
type Drafter struct {
	completer genai.Completer
	account   string
	logger    *slog.Logger
}

// New creates a new drafter for one mailbox account
func New(completer genai.Completer, account string, logger *slog.Logger) *Drafter {
	return &Drafter{
		completer: completer,
		account:   account,
		logger:    logger.With("component", "drafter", "account", account),
	}
}

// Draft asks the model for a reply and wraps it into a pending job addressed
// to the original sender. A completer error produces no job; the message
// stays unread at the provider and is drafted again on a later cycle.
func (d *Drafter) Draft(ctx context.Context, cl models.Classification, senderName, senderEmail string) (*models.ReplyJob, error) {
	prompt := fmt.Sprintf(promptTemplate, cl.Category, cl.BodyText, senderName)

	text, err := d.completer.Complete(ctx, prompt)
	if err != nil {
		d.logger.Error("draft request failed", "recipient", senderEmail, "error", err)
		return nil, fmt.Errorf("failed to draft reply: %w", err)
	}

	return &models.ReplyJob{
		ID:        uuid.NewString(),
		Account:   d.account,
		Recipient: senderEmail,
		Subject:   replySubject,
		Body:      text,
		Status:    models.JobPending,
	}, nil
}
