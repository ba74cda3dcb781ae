package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("SMTP_SERVER", "smtp.corp.com:465")
	t.Setenv("SMTP_USERNAME", "me@corp.com")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("IMAP_ACCOUNT", "me@corp.com")
	t.Setenv("IMAP_PASSWORD", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval: got %v, want 10s", cfg.PollInterval)
	}
	if cfg.GeminiModel != "gemini-1.5-flash" {
		t.Errorf("GeminiModel: got %q", cfg.GeminiModel)
	}
	if cfg.QueueMaxAttempts != 5 {
		t.Errorf("QueueMaxAttempts: got %d, want 5", cfg.QueueMaxAttempts)
	}
	if cfg.GmailEnabled() {
		t.Error("GmailEnabled: got true, want false")
	}
	if !cfg.IMAPEnabled() {
		t.Error("IMAPEnabled: got false, want true")
	}
	if cfg.TelegramEnabled() {
		t.Error("TelegramEnabled: got true, want false")
	}
}

func TestLoad_NoMailbox(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("IMAP_ACCOUNT", "")
	t.Setenv("IMAP_PASSWORD", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error without a mailbox")
	}
	if !strings.Contains(err.Error(), "no mailbox configured") {
		t.Errorf("error: got %v", err)
	}
}

func TestLoad_InvalidMaxAttempts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUEUE_MAX_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero max attempts")
	}
}

func TestConfig_FromAddress(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := cfg.FromAddress(); got != "me@corp.com" {
		t.Errorf("FromAddress: got %q, want %q", got, "me@corp.com")
	}

	t.Setenv("SMTP_FROM", "noreply@corp.com")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := cfg.FromAddress(); got != "noreply@corp.com" {
		t.Errorf("FromAddress: got %q, want %q", got, "noreply@corp.com")
	}
}
