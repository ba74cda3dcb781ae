package models

import "time"

// CredentialRecord is one persisted credential, keyed by mailbox account.
// Token holds the serialized OAuth token (access token, optional refresh
// token and expiry). An absent expiry means the credential does not expire.
type CredentialRecord struct {
	Account   string    `db:"account"`
	Token     []byte    `db:"token"`
	UpdatedAt time.Time `db:"updated_at"`
}
