package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/savichev/replypilot/internal/classify"
	"github.com/savichev/replypilot/internal/config"
	"github.com/savichev/replypilot/internal/credential"
	"github.com/savichev/replypilot/internal/database"
	"github.com/savichev/replypilot/internal/envelope"
	"github.com/savichev/replypilot/internal/genai"
	"github.com/savichev/replypilot/internal/mailbox/gmailbox"
	"github.com/savichev/replypilot/internal/mailbox/imapbox"
	"github.com/savichev/replypilot/internal/notify"
	"github.com/savichev/replypilot/internal/queue"
	"github.com/savichev/replypilot/internal/reply"
	"github.com/savichev/replypilot/internal/scheduler"
	"github.com/savichev/replypilot/internal/transport"
	"github.com/savichev/replypilot/pkg/models"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting replypilot")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create Telegram notifier (optional)
	var notifier *notify.Telegram
	if cfg.TelegramEnabled() {
		notifier, err = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("failed to create telegram notifier", "error", err)
			os.Exit(1)
		}
		logger.Info("telegram alerts enabled")
	}

	// Create pipeline components
	completer := genai.NewGemini(genai.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	classifier := classify.New(completer, logger)
	extractor := envelope.New()

	sender := transport.NewSMTPSender(transport.SMTPConfig{
		Server:   cfg.SMTPServer,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.FromAddress(),
	}, logger)

	// Create reply queue
	q := queue.New(db, sender, queue.Options{
		Workers:      cfg.QueueWorkers,
		MaxAttempts:  cfg.QueueMaxAttempts,
		BackoffBase:  cfg.QueueBackoffBase,
		BackoffMax:   cfg.QueueBackoffMax,
		PollInterval: cfg.QueuePollInterval,
		SendTimeout:  cfg.CallTimeout,
	}, logger)

	q.OnCompleted(func(job *models.ReplyJob) {
		logger.Info("reply delivered", "job_id", job.ID, "recipient", job.Recipient)
	})
	q.OnFailed(func(job *models.ReplyJob) {
		logger.Error("reply delivery failed permanently",
			"job_id", job.ID, "recipient", job.Recipient, "error", job.LastError)
		if notifier != nil {
			notifier.JobFailed(job)
		}
	})

	// Requeue deliveries interrupted by the last shutdown
	if err := q.Recover(ctx); err != nil {
		logger.Error("failed to recover queue", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")
		cancel()
	}()

	q.Start(ctx)

	// Start one scheduler per configured mailbox; each has its own
	// credential store and shares nothing with the others
	var wg sync.WaitGroup

	if cfg.GmailEnabled() {
		authorizer := credential.NewGoogleAuthorizer(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
		store := credential.NewStore(
			cfg.GmailAccount, authorizer, db, credential.StdinPrompter, logger)
		defer store.Close()

		provider, err := gmailbox.New(ctx, store, logger)
		if err != nil {
			logger.Error("failed to create gmail provider", "error", err)
			os.Exit(1)
		}

		runScheduler(ctx, &wg, logger, notifier, scheduler.New(scheduler.Options{
			Account:     cfg.GmailAccount,
			Interval:    cfg.PollInterval,
			CallTimeout: cfg.CallTimeout,
			Authorize: func(ctx context.Context) error {
				_, err := store.Acquire(ctx)
				return err
			},
		}, provider, extractor, classifier,
			reply.New(completer, cfg.GmailAccount, logger), q, logger))
	}

	if cfg.IMAPEnabled() {
		server := cfg.IMAPServer
		if server == "" {
			server, err = imapbox.ResolveServer(cfg.IMAPAccount)
			if err != nil {
				logger.Error("failed to resolve IMAP server", "error", err)
				os.Exit(1)
			}
			logger.Info("resolved IMAP server", "server", server)
		}

		provider := imapbox.New(imapbox.Config{
			Account:     cfg.IMAPAccount,
			Password:    cfg.IMAPPassword,
			Server:      server,
			DialTimeout: cfg.IMAPDialTimeout,
		}, logger)
		defer provider.Close()

		runScheduler(ctx, &wg, logger, notifier, scheduler.New(scheduler.Options{
			Account:     cfg.IMAPAccount,
			Interval:    cfg.PollInterval,
			CallTimeout: cfg.CallTimeout,
			Authorize:   provider.Connect,
		}, provider, extractor, classifier,
			reply.New(completer, cfg.IMAPAccount, logger), q, logger))
	}

	logger.Info("replypilot is running, press Ctrl+C to stop")

	wg.Wait()
	q.Wait()

	logger.Info("replypilot stopped")
}

// runScheduler runs a mailbox scheduler in its own goroutine. An error is
// fatal for that mailbox only; the queue and the other mailboxes keep going.
func runScheduler(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, notifier *notify.Telegram, s *scheduler.Scheduler) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			logger.Error("mailbox scheduler exited", "error", err)
			if notifier != nil {
				notifier.AuthFailed(s.Account(), err)
			}
		}
	}()
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
