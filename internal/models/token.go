package models

import "time"

// TokenKind distinguishes access from refresh tokens in claims and in the
// outstanding-token table.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// OutstandingToken records an issued token for explicit revocation,
// independent of the per-user token version counter. Revocation is keyed by
// the token's jti claim rather than the raw token string.
type OutstandingToken struct {
	ID        string     `db:"id" json:"id"`
	JTI       string     `db:"jti" json:"jti"`
	UserID    string     `db:"user_id" json:"user_id"`
	Kind      TokenKind  `db:"kind" json:"kind"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Revoked reports whether the token was explicitly blacklisted.
func (t *OutstandingToken) Revoked() bool {
	return t.RevokedAt != nil
}
