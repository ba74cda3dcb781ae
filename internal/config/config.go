package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/replypilot.db"`

	// Polling
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`

	// Gmail account (optional, OAuth)
	GmailAccount       string `env:"GMAIL_ACCOUNT"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI" envDefault:"urn:ietf:wg:oauth:2.0:oob"`

	// IMAP account (optional, password auth)
	IMAPAccount     string        `env:"IMAP_ACCOUNT"`
	IMAPPassword    string        `env:"IMAP_PASSWORD"`
	IMAPServer      string        `env:"IMAP_SERVER"` // host:port, resolved from the address when empty
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Text generation
	GeminiAPIKey string `env:"GEMINI_API_KEY,required"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	// Outbound SMTP
	SMTPServer   string `env:"SMTP_SERVER,required"` // host:port, implicit TLS
	SMTPUsername string `env:"SMTP_USERNAME,required"`
	SMTPPassword string `env:"SMTP_PASSWORD,required"`
	SMTPFrom     string `env:"SMTP_FROM"` // defaults to SMTP_USERNAME

	// Reply queue
	QueueWorkers      int           `env:"QUEUE_WORKERS" envDefault:"1"`
	QueueMaxAttempts  int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	QueueBackoffBase  time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"30s"`
	QueueBackoffMax   time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"30m"`
	QueuePollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`

	// Telegram alerts (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// GmailEnabled returns true if a Gmail account is configured
func (c *Config) GmailEnabled() bool {
	return c.GmailAccount != "" && c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// IMAPEnabled returns true if an IMAP account is configured
func (c *Config) IMAPEnabled() bool {
	return c.IMAPAccount != "" && c.IMAPPassword != ""
}

// TelegramEnabled returns true if Telegram alerts are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// FromAddress returns the sender address for outbound replies
func (c *Config) FromAddress() string {
	if c.SMTPFrom != "" {
		return c.SMTPFrom
	}
	return c.SMTPUsername
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if !cfg.GmailEnabled() && !cfg.IMAPEnabled() {
		return nil, fmt.Errorf("no mailbox configured: set GMAIL_ACCOUNT or IMAP_ACCOUNT")
	}
	if cfg.QueueMaxAttempts < 1 {
		return nil, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", cfg.QueueMaxAttempts)
	}

	return cfg, nil
}
