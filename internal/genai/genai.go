// Package genai provides access to the text-generation service used for
// classifying messages and drafting replies.
package genai

import "context"

// Completer generates free text for a prompt. Implementations make no
// guarantee about the structure of the returned text; callers parse it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
