// Package notify pushes alerts for events that need human attention: reply
// jobs that exhausted their delivery attempts and mailbox authorization
// failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"

	"github.com/savichev/replypilot/pkg/models"
)

const sendTimeout = 10 * time.Second

// Telegram sends alerts to a Telegram chat
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{
		bot:    b,
		chatID: chatID,
		logger: logger.With("component", "telegram_notifier"),
	}, nil
}

// JobFailed alerts that a reply job exhausted its delivery attempts
func (t *Telegram) JobFailed(job *models.ReplyJob) {
	text := fmt.Sprintf(
		"Reply delivery failed\n\nJob: %s\nRecipient: %s\nAttempts: %d\nLast error: %s",
		job.ID, job.Recipient, job.Attempts, job.LastError,
	)
	t.send(text)
}

// AuthFailed alerts that a mailbox could not be authorized
func (t *Telegram) AuthFailed(account string, err error) {
	t.send(fmt.Sprintf("Mailbox authorization failed\n\nAccount: %s\nError: %v", account, err))
}

func (t *Telegram) send(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		t.logger.Error("failed to send telegram alert", "error", err)
	}
}
