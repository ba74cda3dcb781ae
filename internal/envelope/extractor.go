// Package envelope normalizes raw provider payloads into inbound messages.
package envelope

import (
	"regexp"
	"strings"
	"time"

	"github.com/savichev/replypilot/internal/mailbox"
	"github.com/savichev/replypilot/pkg/models"
)

// noSubject is the placeholder used when a message carries no subject
const noSubject = "(No Subject)"

// maxPartDepth bounds the multipart walk. Well-formed trees are acyclic and
// shallow; the bound only guards against pathological payloads.
const maxPartDepth = 32

var fromRegex = regexp.MustCompile(`^(.+?) <(.+?)>$`)

// Extractor turns raw payloads into normalized inbound messages
type Extractor struct {
	html *HTMLParser
}

// New creates a new extractor
func New() *Extractor {
	return &Extractor{html: NewHTMLParser()}
}

// Extract builds an InboundMessage from a raw payload. Extraction is
// side-effect free: provider state is never touched.
func (e *Extractor) Extract(raw *mailbox.RawMessage) models.InboundMessage {
	name, addr := splitFrom(raw.Headers["From"])

	subject := raw.Headers["Subject"]
	if subject == "" {
		subject = noSubject
	}

	body := plainText(raw.Payload, 0)
	if body == "" {
		// HTML-only mail: fall back to a text rendering of the first
		// HTML part so the classifier has something to work with
		if h := htmlPart(raw.Payload, 0); h != "" {
			if text, err := e.html.Parse(h); err == nil {
				body = text
			}
		}
	}

	return models.InboundMessage{
		ProviderID:   raw.ID,
		SenderName:   name,
		SenderEmail:  addr,
		Subject:      subject,
		BodyText:     body,
		DiscoveredAt: time.Now(),
	}
}

// splitFrom parses a From header of the form `"Display Name" <address>`.
// A header that does not match is treated as a bare address with no name.
func splitFrom(header string) (name, addr string) {
	match := fromRegex.FindStringSubmatch(header)
	if match == nil {
		return "", header
	}
	name = strings.Trim(match[1], `"`)
	return name, match[2]
}

// plainText walks the part tree depth-first and returns the first text/plain
// leaf's decoded content, or an empty string when no such leaf exists.
func plainText(p *mailbox.Part, depth int) string {
	if p == nil || depth > maxPartDepth {
		return ""
	}
	if strings.HasPrefix(p.MIMEType, "text/plain") {
		return p.Body
	}
	if strings.HasPrefix(p.MIMEType, "multipart/") {
		for _, child := range p.Parts {
			if body := plainText(child, depth+1); body != "" {
				return body
			}
		}
	}
	return ""
}

// htmlPart returns the first text/html leaf's content, if any
func htmlPart(p *mailbox.Part, depth int) string {
	if p == nil || depth > maxPartDepth {
		return ""
	}
	if strings.HasPrefix(p.MIMEType, "text/html") {
		return p.Body
	}
	if strings.HasPrefix(p.MIMEType, "multipart/") {
		for _, child := range p.Parts {
			if body := htmlPart(child, depth+1); body != "" {
				return body
			}
		}
	}
	return ""
}
