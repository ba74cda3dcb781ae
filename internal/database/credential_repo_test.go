package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestCredentialRepo_SaveAndLoad(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveCredential(ctx, "a@x.com", []byte(`{"access_token":"t1"}`)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rec, err := db.LoadCredential(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.Account != "a@x.com" {
		t.Errorf("Account: got %q, want %q", rec.Account, "a@x.com")
	}
	if !bytes.Equal(rec.Token, []byte(`{"access_token":"t1"}`)) {
		t.Errorf("Token: got %q", rec.Token)
	}
}

func TestCredentialRepo_SaveOverwrites(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveCredential(ctx, "a@x.com", []byte("old")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := db.SaveCredential(ctx, "a@x.com", []byte("new")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	rec, err := db.LoadCredential(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(rec.Token) != "new" {
		t.Errorf("Token: got %q, want %q", rec.Token, "new")
	}
}

func TestCredentialRepo_NotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	_, err := db.LoadCredential(context.Background(), "missing@x.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error: got %v, want ErrNotFound", err)
	}
}

func TestCredentialRepo_PerAccountIsolation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveCredential(ctx, "a@x.com", []byte("token-a")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := db.SaveCredential(ctx, "b@y.com", []byte("token-b")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rec, err := db.LoadCredential(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(rec.Token) != "token-a" {
		t.Errorf("Token: got %q, want %q", rec.Token, "token-a")
	}
}
