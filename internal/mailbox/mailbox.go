// Package mailbox defines the contract between the polling scheduler and a
// mailbox provider, and the provider-neutral raw message payload.
package mailbox

import "context"

// Provider is one authenticated mailbox account being polled. The provider's
// own unread flag is the single source of truth for idempotency: a message
// stops appearing in ListUnread only after MarkRead succeeds.
type Provider interface {
	// ListUnread returns the identifiers of all unread messages.
	ListUnread(ctx context.Context) ([]string, error)

	// Fetch returns the raw payload for one message. Fetching never
	// mutates provider state.
	Fetch(ctx context.Context, id string) (*RawMessage, error)

	// MarkRead clears the unread flag for exactly one message.
	MarkRead(ctx context.Context, id string) error
}

// RawMessage is a provider message payload before extraction: the headers
// the pipeline cares about plus the (possibly nested) MIME part tree.
type RawMessage struct {
	ID      string
	Headers map[string]string // canonical header name -> value
	Payload *Part
}

// Part is one node of a MIME part tree. Leaf parts carry decoded content in
// Body; multipart containers carry children in Parts.
type Part struct {
	MIMEType string // lowercased media type, e.g. text/plain
	Body     string
	Parts    []*Part
}
