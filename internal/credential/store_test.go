package credential

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/savichev/replypilot/internal/database"
	"github.com/savichev/replypilot/pkg/models"
)

type fakeAuthorizer struct {
	exchangeTok *oauth2.Token
	exchangeErr error
	refreshTok  *oauth2.Token
	refreshErr  error
	exchanged   []string
	refreshed   []string
}

func (f *fakeAuthorizer) AuthCodeURL() string { return "https://auth.example.com/consent" }

func (f *fakeAuthorizer) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	f.exchanged = append(f.exchanged, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	tok := *f.exchangeTok
	return &tok, nil
}

func (f *fakeAuthorizer) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.refreshed = append(f.refreshed, refreshToken)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	tok := *f.refreshTok
	return &tok, nil
}

type fakeStorage struct {
	records map[string][]byte
	saves   int
	deletes int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{records: make(map[string][]byte)}
}

func (f *fakeStorage) SaveCredential(ctx context.Context, account string, token []byte) error {
	f.saves++
	f.records[account] = append([]byte(nil), token...)
	return nil
}

func (f *fakeStorage) LoadCredential(ctx context.Context, account string) (*models.CredentialRecord, error) {
	data, ok := f.records[account]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &models.CredentialRecord{Account: account, Token: data}, nil
}

func (f *fakeStorage) DeleteCredential(ctx context.Context, account string) error {
	f.deletes++
	delete(f.records, account)
	return nil
}

func (f *fakeStorage) put(t *testing.T, account string, tok *oauth2.Token) {
	t.Helper()
	data, err := json.Marshal(tok)
	if err != nil {
		t.Fatalf("failed to marshal token: %v", err)
	}
	f.records[account] = data
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rejectPrompt(t *testing.T) CodePrompter {
	return func(authURL string) (string, error) {
		t.Error("unexpected interactive authorization")
		return "", errors.New("no prompt in this test")
	}
}

func newTestStore(t *testing.T, auth Authorizer, storage Storage, prompt CodePrompter) *Store {
	t.Helper()
	s := NewStore("me@corp.com", auth, storage, prompt, discardLogger())
	t.Cleanup(s.Close)
	return s
}

func TestStore_ReturnsStoredValidCredential(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthorizer{}
	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{
		AccessToken: "stored",
		Expiry:      time.Now().Add(time.Hour),
	})

	s := newTestStore(t, auth, storage, rejectPrompt(t))

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if tok.AccessToken != "stored" {
		t.Errorf("AccessToken: got %q, want %q", tok.AccessToken, "stored")
	}
	if len(auth.refreshed) != 0 {
		t.Errorf("refresh calls: got %d, want 0", len(auth.refreshed))
	}
}

func TestStore_NonExpiringCredentialNeverRefreshes(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthorizer{}
	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{AccessToken: "forever"})

	s := newTestStore(t, auth, storage, rejectPrompt(t))

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if tok.AccessToken != "forever" {
		t.Errorf("AccessToken: got %q, want %q", tok.AccessToken, "forever")
	}
	if len(auth.refreshed) != 0 {
		t.Errorf("refresh calls: got %d, want 0", len(auth.refreshed))
	}
}

func TestStore_InteractiveAuthorizationWhenMissing(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthorizer{
		exchangeTok: &oauth2.Token{
			AccessToken:  "fresh",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
	storage := newFakeStorage()

	var promptedURL string
	prompt := func(authURL string) (string, error) {
		promptedURL = authURL
		return "auth-code", nil
	}

	s := newTestStore(t, auth, storage, prompt)

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Errorf("AccessToken: got %q, want %q", tok.AccessToken, "fresh")
	}
	if promptedURL != "https://auth.example.com/consent" {
		t.Errorf("prompted URL: got %q", promptedURL)
	}
	if len(auth.exchanged) != 1 || auth.exchanged[0] != "auth-code" {
		t.Errorf("exchanged codes: got %v, want [auth-code]", auth.exchanged)
	}

	// The exchanged credential is persisted for the next run
	rec, err := storage.LoadCredential(context.Background(), "me@corp.com")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	var stored oauth2.Token
	if err := json.Unmarshal(rec.Token, &stored); err != nil {
		t.Fatalf("failed to decode stored token: %v", err)
	}
	if stored.AccessToken != "fresh" {
		t.Errorf("stored AccessToken: got %q, want %q", stored.AccessToken, "fresh")
	}
}

func TestStore_RefreshesExpiredCredential(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthorizer{
		refreshTok: &oauth2.Token{
			AccessToken: "renewed",
			Expiry:      time.Now().Add(time.Hour),
		},
	}
	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})

	s := newTestStore(t, auth, storage, rejectPrompt(t))

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if tok.AccessToken != "renewed" {
		t.Errorf("AccessToken: got %q, want %q", tok.AccessToken, "renewed")
	}
	if len(auth.refreshed) != 1 || auth.refreshed[0] != "refresh-1" {
		t.Errorf("refreshed tokens: got %v, want [refresh-1]", auth.refreshed)
	}
	// The provider omitted the refresh token, the old one is kept
	if tok.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken: got %q, want %q", tok.RefreshToken, "refresh-1")
	}

	var stored oauth2.Token
	if err := json.Unmarshal(storage.records["me@corp.com"], &stored); err != nil {
		t.Fatalf("failed to decode stored token: %v", err)
	}
	if stored.AccessToken != "renewed" {
		t.Errorf("stored AccessToken: got %q, want %q", stored.AccessToken, "renewed")
	}
}

func TestStore_RefreshFailureIsErrAuth(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthorizer{refreshErr: errors.New("invalid_grant")}
	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})
	before := string(storage.records["me@corp.com"])

	s := newTestStore(t, auth, storage, rejectPrompt(t))

	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrAuth) {
		t.Errorf("error: got %v, want ErrAuth", err)
	}
	// Persisted state stays untouched so the next run can try again
	if after := string(storage.records["me@corp.com"]); after != before {
		t.Error("persisted credential changed after failed refresh")
	}
}

func TestStore_RejectedRefreshDiscardsCredential(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthorizer{
		refreshErr: &oauth2.RetrieveError{
			Response: &http.Response{StatusCode: http.StatusBadRequest},
		},
		exchangeTok: &oauth2.Token{
			AccessToken:  "reissued",
			RefreshToken: "refresh-2",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Minute),
	})

	prompt := func(authURL string) (string, error) { return "auth-code", nil }
	s := newTestStore(t, auth, storage, prompt)

	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("error: got %v, want ErrAuth", err)
	}
	if storage.deletes != 1 {
		t.Errorf("deletes: got %d, want 1", storage.deletes)
	}
	if _, ok := storage.records["me@corp.com"]; ok {
		t.Error("rejected credential still stored")
	}

	// With the dead grant gone the next acquisition reauthorizes
	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if tok.AccessToken != "reissued" {
		t.Errorf("AccessToken: got %q, want %q", tok.AccessToken, "reissued")
	}
	if len(auth.exchanged) != 1 {
		t.Errorf("exchanges: got %d, want 1", len(auth.exchanged))
	}
}

func TestStore_ExpiredWithoutRefreshTokenIsErrAuth(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{
		AccessToken: "expired",
		Expiry:      time.Now().Add(-time.Minute),
	})

	s := newTestStore(t, &fakeAuthorizer{}, storage, rejectPrompt(t))

	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrAuth) {
		t.Errorf("error: got %v, want ErrAuth", err)
	}
}

func TestStore_SchedulesProactiveRefreshAtHalfTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	storage.put(t, "me@corp.com", &oauth2.Token{
		AccessToken:  "stored",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(time.Hour),
	})

	s := newTestStore(t, &fakeAuthorizer{}, storage, rejectPrompt(t))
	s.now = func() time.Time { return now }

	var delays []time.Duration
	var timers []*time.Timer
	s.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		delays = append(delays, d)
		timer := time.NewTimer(time.Hour)
		timers = append(timers, timer)
		return timer
	}

	if _, err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if len(delays) != 1 || delays[0] != 30*time.Minute {
		t.Fatalf("scheduled delays: got %v, want [30m]", delays)
	}

	// A second acquisition replaces the pending refresh instead of stacking
	if _, err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if len(timers) != 2 {
		t.Fatalf("timers armed: got %d, want 2", len(timers))
	}
	if timers[0].Stop() {
		t.Error("first timer was still armed after rescheduling")
	}
	if !timers[1].Stop() {
		t.Error("second timer was not armed")
	}
}
