// Package transport delivers generated replies to their recipients.
package transport

import "context"

// Sender delivers one reply. Implementations return a provider message ID
// on success.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) (string, error)
}
