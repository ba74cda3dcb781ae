// Package imapbox implements the mailbox provider contract over IMAP for
// accounts with plain password authentication.
package imapbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"

	"github.com/savichev/replypilot/internal/mailbox"
)

// maxParseDepth bounds the MIME tree built from an IMAP literal
const maxParseDepth = 32

// Config for an IMAP provider
type Config struct {
	Account     string
	Password    string
	Server      string // host:port
	DialTimeout time.Duration
}

// Provider is an IMAP mailbox. All operations on the underlying connection
// are serialized by the mutex.
type Provider struct {
	config    Config
	logger    *slog.Logger
	mu        sync.Mutex
	client    *client.Client
	connected bool
}

// New creates an IMAP provider. Connect must be called before use.
func New(cfg Config, logger *slog.Logger) *Provider {
	return &Provider{
		config: cfg,
		logger: logger.With("component", "imapbox", "account", cfg.Account),
	}
}

// Connect dials the server, logs in and selects INBOX
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Provider) connectLocked() error {
	if p.connected {
		return nil
	}

	p.logger.Info("connecting to IMAP server", "server", p.config.Server)

	timeout := p.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", p.config.Server, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}
	imapClient.Timeout = timeout

	if err := imapClient.Login(p.config.Account, p.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	p.client = imapClient
	p.connected = true
	p.logger.Info("connected to IMAP server")
	return nil
}

// ListUnread searches INBOX for messages without the \Seen flag
func (p *Provider) ListUnread(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	c := p.client
	var uids []uint32
	err := p.runCommand(ctx, func() error {
		var err error
		uids, err = c.UidSearch(criteria)
		return err
	})
	if err != nil {
		p.disconnectLocked()
		return nil, fmt.Errorf("failed to search unread: %w", err)
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

// Fetch retrieves one message body with BODY.PEEK so the \Seen flag is not
// set as a side effect; only MarkRead flips it.
func (p *Provider) Fetch(ctx context.Context, id string) (*mailbox.RawMessage, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	c := p.client
	var msg *imap.Message
	err = p.runCommand(ctx, func() error {
		messages := make(chan *imap.Message, 1)
		fetchDone := make(chan error, 1)
		go func() {
			fetchDone <- c.UidFetch(seqSet, items, messages)
		}()
		for m := range messages {
			msg = m
		}
		return <-fetchDone
	})
	if err != nil {
		p.disconnectLocked()
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %s has no body section", id)
	}

	return parseLiteral(id, body)
}

// MarkRead adds the \Seen flag to one message
func (p *Provider) MarkRead(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	c := p.client
	err = p.runCommand(ctx, func() error {
		return c.UidStore(seqSet, item, flags, nil)
	})
	if err != nil {
		p.disconnectLocked()
		return fmt.Errorf("failed to mark message %s as read: %w", id, err)
	}
	return nil
}

// Close logs out from the server
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectLocked()
}

// runCommand starts an IMAP command and bounds it with ctx. The caller must
// hold the mutex.
func (p *Provider) runCommand(ctx context.Context, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	return awaitCommand(ctx, p.terminateLocked, done)
}

// awaitCommand waits for a command result. When ctx expires first the
// connection is terminated, which forces the command to finish; the next
// call reconnects.
func awaitCommand(ctx context.Context, terminate func(), done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		terminate()
		<-done
		return ctx.Err()
	}
}

// terminateLocked drops the connection without a Logout round trip,
// unblocking any command still in flight
func (p *Provider) terminateLocked() {
	if p.client != nil {
		p.client.Terminate()
		p.client = nil
	}
	p.connected = false
}

func (p *Provider) disconnectLocked() {
	if p.client != nil {
		p.client.Logout()
		p.client = nil
	}
	p.connected = false
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return uint32(uid), nil
}

// parseLiteral parses a full RFC 822 literal into the provider-neutral
// raw message
func parseLiteral(id string, r io.Reader) (*mailbox.RawMessage, error) {
	ent, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message %s: %w", id, err)
	}

	raw := &mailbox.RawMessage{
		ID: id,
		Headers: map[string]string{
			"From":    ent.Header.Get("From"),
			"Subject": ent.Header.Get("Subject"),
		},
		Payload: buildPart(ent, 0),
	}
	return raw, nil
}

// buildPart recursively converts a message entity into a Part tree.
// go-message decodes transfer encodings, so leaf bodies are plain content.
func buildPart(ent *message.Entity, depth int) *mailbox.Part {
	mediaType, _, _ := ent.Header.ContentType()
	part := &mailbox.Part{MIMEType: strings.ToLower(mediaType)}

	if mr := ent.MultipartReader(); mr != nil && depth < maxParseDepth {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			part.Parts = append(part.Parts, buildPart(child, depth+1))
		}
		return part
	}

	if b, err := io.ReadAll(ent.Body); err == nil {
		part.Body = string(b)
	}
	return part
}
