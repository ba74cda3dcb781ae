package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPConfig for the outbound SMTP sender
type SMTPConfig struct {
	Server      string // host:port, implicit TLS
	Username    string
	Password    string
	From        string
	DialTimeout time.Duration
}

// SMTPSender sends replies through an SMTP submission endpoint
type SMTPSender struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		config: cfg,
		logger: logger.With("component", "smtp_sender"),
	}
}

// Send delivers one reply. Each call opens a fresh connection; the queue
// retries failed attempts, so there is no point keeping broken sessions.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	timeout := s.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.config.Server, nil)
	if err != nil {
		return "", fmt.Errorf("failed to connect: %w", err)
	}

	host := s.config.Server
	if h, _, err := net.SplitHostPort(s.config.Server); err == nil {
		host = h
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	auth := sasl.NewPlainClient("", s.config.Username, s.config.Password)
	if err := client.Auth(auth); err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := client.Mail(s.config.From, nil); err != nil {
		return "", fmt.Errorf("server did not accept MAIL: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return "", fmt.Errorf("server did not accept RCPT: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)

	writer, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("server did not accept DATA: %w", err)
	}
	if _, err := writer.Write(buildMessage(s.config.From, recipient, subject, messageID, body)); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish message: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("QUIT failed after successful send", "error", err)
	}

	s.logger.Info("reply sent", "recipient", recipient, "message_id", messageID)
	return messageID, nil
}

// buildMessage assembles an RFC 5322 message with CRLF line endings
func buildMessage(from, to, subject, messageID, body string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Message-ID: " + messageID + "\r\n")
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	sb.WriteString("\r\n")
	return []byte(sb.String())
}
