// Package credential manages one mailbox account's provider credentials:
// loading, interactive authorization, refresh and proactive renewal. Each
// mailbox gets its own Store instance; stores share no state.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/savichev/replypilot/internal/database"
	"github.com/savichev/replypilot/pkg/models"
)

// ErrAuth is returned when interactive authorization or a refresh exchange
// fails. Callers must treat it as fatal for the mailbox rather than loop.
var ErrAuth = errors.New("authorization failed")

// refreshTimeout bounds a proactive refresh exchange
const refreshTimeout = 30 * time.Second

// Storage persists serialized credentials keyed by account
type Storage interface {
	SaveCredential(ctx context.Context, account string, token []byte) error
	LoadCredential(ctx context.Context, account string) (*models.CredentialRecord, error)
	DeleteCredential(ctx context.Context, account string) error
}

// Store owns the credential for one mailbox account
type Store struct {
	account string
	auth    Authorizer
	storage Storage
	prompt  CodePrompter
	logger  *slog.Logger

	mu           sync.Mutex
	token        *oauth2.Token
	refreshTimer *time.Timer

	// Seams for tests
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewStore creates a credential store for one account
func NewStore(account string, auth Authorizer, storage Storage, prompt CodePrompter, logger *slog.Logger) *Store {
	return &Store{
		account:   account,
		auth:      auth,
		storage:   storage,
		prompt:    prompt,
		logger:    logger.With("component", "credential_store", "account", account),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Acquire returns a valid credential, loading, authorizing interactively or
// refreshing as needed. A non-expired credential is always preferred over a
// network refresh. Every successful acquisition schedules a proactive
// refresh at half the remaining time to expiry.
func (s *Store) Acquire(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		if err := s.loadLocked(ctx); err != nil {
			return nil, err
		}
	}

	if !s.validLocked() {
		if err := s.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}

	s.scheduleRefreshLocked()

	tok := *s.token
	return &tok, nil
}

// Token implements oauth2.TokenSource so provider clients consult the store
// on every call
func (s *Store) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	return s.Acquire(ctx)
}

// Persist serializes and stores a credential
func (s *Store) Persist(ctx context.Context, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	return s.persistLocked(ctx)
}

// Close cancels any pending proactive refresh
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

// loadLocked loads the persisted credential, falling back to interactive
// authorization when none exists
func (s *Store) loadLocked(ctx context.Context) error {
	rec, err := s.storage.LoadCredential(ctx, s.account)
	if errors.Is(err, database.ErrNotFound) {
		return s.authorizeLocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(rec.Token, &tok); err != nil {
		return fmt.Errorf("failed to decode stored credential: %w", err)
	}
	s.token = &tok
	return nil
}

// authorizeLocked runs the interactive authorization exchange
func (s *Store) authorizeLocked(ctx context.Context) error {
	s.logger.Info("no stored credential, starting interactive authorization")

	code, err := s.prompt(s.auth.AuthCodeURL())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	tok, err := s.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	s.token = tok
	if err := s.persistLocked(ctx); err != nil {
		return err
	}

	s.logger.Info("authorization complete, credential stored")
	return nil
}

// refreshLocked performs a refresh exchange. On failure the persisted state
// is left untouched so the previous credential is attempted again next time.
func (s *Store) refreshLocked(ctx context.Context) error {
	if s.token.RefreshToken == "" {
		return fmt.Errorf("%w: credential expired and no refresh token is available", ErrAuth)
	}

	tok, err := s.auth.Refresh(ctx, s.token.RefreshToken)
	if err != nil {
		if isPermanentAuthError(err) {
			s.discardLocked(ctx)
		}
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	// Providers often omit the refresh token on renewal; keep the old one
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.token.RefreshToken
	}

	s.token = tok
	if err := s.persistLocked(ctx); err != nil {
		return err
	}

	s.logger.Info("credential refreshed", "expiry", tok.Expiry)
	return nil
}

// discardLocked drops a rejected credential so the next acquisition runs the
// interactive authorization instead of replaying a dead refresh token
func (s *Store) discardLocked(ctx context.Context) {
	if err := s.storage.DeleteCredential(ctx, s.account); err != nil {
		s.logger.Error("failed to discard rejected credential", "error", err)
		return
	}
	s.token = nil
	s.logger.Warn("refresh token rejected, stored credential discarded")
}

// isPermanentAuthError reports whether a refresh failure means the grant
// itself is dead, as opposed to a transient transport problem. The token
// endpoint answers 400 or 401 for revoked and invalid grants.
func isPermanentAuthError(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return false
	}
	if rErr.Response == nil {
		return false
	}
	return rErr.Response.StatusCode == http.StatusBadRequest ||
		rErr.Response.StatusCode == http.StatusUnauthorized
}

// persistLocked serializes the current token to storage
func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.token)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := s.storage.SaveCredential(ctx, s.account, data); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	return nil
}

// validLocked reports whether the current token can be used as-is. A zero
// expiry means the credential does not expire.
func (s *Store) validLocked() bool {
	if s.token.Expiry.IsZero() {
		return true
	}
	return s.now().Before(s.token.Expiry)
}

// scheduleRefreshLocked arms a proactive refresh at half the remaining time
// to expiry. At most one refresh is pending; arming a new one cancels the
// previous.
func (s *Store) scheduleRefreshLocked() {
	if s.token == nil || s.token.Expiry.IsZero() {
		return
	}

	ttl := s.token.Expiry.Sub(s.now())
	if ttl <= 0 {
		return
	}

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = s.afterFunc(ttl/2, s.proactiveRefresh)
}

// proactiveRefresh runs in the timer goroutine and renews the credential
// before anyone observes an expiry on the hot path
func (s *Store) proactiveRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(ctx); err != nil {
		// The next Acquire retries on demand and reports the failure
		s.logger.Warn("proactive refresh failed", "error", err)
		return
	}
	s.scheduleRefreshLocked()
}
