package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/savichev/replypilot/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// SaveCredential inserts or replaces the credential for an account
func (db *DB) SaveCredential(ctx context.Context, account string, token []byte) error {
	query := `
		INSERT INTO credentials (account, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query, account, token, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// LoadCredential returns the stored credential for an account
func (db *DB) LoadCredential(ctx context.Context, account string) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	query := `SELECT * FROM credentials WHERE account = ?`
	err := db.GetContext(ctx, &rec, query, account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &rec, nil
}

// DeleteCredential removes the stored credential for an account
func (db *DB) DeleteCredential(ctx context.Context, account string) error {
	query := `DELETE FROM credentials WHERE account = ?`
	_, err := db.ExecContext(ctx, query, account)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
