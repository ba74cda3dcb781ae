// Package gmailbox implements the mailbox provider contract on top of the
// Gmail REST API.
package gmailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/savichev/replypilot/internal/mailbox"
)

const (
	user        = "me"
	unreadQuery = "is:unread"
	unreadLabel = "UNREAD"
)

// Provider is a Gmail mailbox
type Provider struct {
	svc    *gmail.Service
	logger *slog.Logger
}

// New creates a Gmail provider. Every API call draws its token from ts, so
// the credential store stays in the loop on each request.
func New(ctx context.Context, ts oauth2.TokenSource, logger *slog.Logger) (*Provider, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Provider{
		svc:    svc,
		logger: logger.With("component", "gmailbox"),
	}, nil
}

// ListUnread returns the IDs of all unread messages
func (p *Provider) ListUnread(ctx context.Context) ([]string, error) {
	res, err := p.svc.Users.Messages.List(user).Q(unreadQuery).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Fetch returns the full payload of one message
func (p *Provider) Fetch(ctx context.Context, id string) (*mailbox.RawMessage, error) {
	msg, err := p.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	raw := &mailbox.RawMessage{
		ID:      id,
		Headers: make(map[string]string),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			raw.Headers[h.Name] = h.Value
		}
		raw.Payload = convertPart(msg.Payload)
	}
	return raw, nil
}

// MarkRead removes the UNREAD label from one message
func (p *Provider) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := p.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to mark message %s as read: %w", id, err)
	}
	return nil
}

// convertPart maps a Gmail part tree onto the provider-neutral one, decoding
// base64url bodies along the way
func convertPart(gp *gmail.MessagePart) *mailbox.Part {
	part := &mailbox.Part{
		MIMEType: strings.ToLower(gp.MimeType),
	}
	if gp.Body != nil && gp.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(gp.Body.Data)
		if err != nil {
			// some payloads arrive without padding
			data, err = base64.RawURLEncoding.DecodeString(gp.Body.Data)
		}
		if err == nil {
			part.Body = string(data)
		}
	}
	for _, child := range gp.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}
