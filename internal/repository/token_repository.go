package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
)

const denylistKeyPrefix = "denylist:"

// TokenRepository maintains the outstanding/blacklist side-table. Postgres is
// the source of truth; Redis carries a denylist entry per revoked jti with a
// TTL matching the token's remaining lifetime, so the hot path rarely touches
// the database. Redis being down degrades to Postgres-only lookups.
type TokenRepository struct {
	db     *sqlx.DB
	cache  *redis.Client
	logger *zap.Logger
}

// NewTokenRepository creates a new instance of TokenRepository. The cache
// client may be nil.
func NewTokenRepository(db *sqlx.DB, cache *redis.Client, logger *zap.Logger) *TokenRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenRepository{db: db, cache: cache, logger: logger}
}

// RecordIssued stores bookkeeping for a freshly issued token.
func (r *TokenRepository) RecordIssued(ctx context.Context, token *models.OutstandingToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO outstanding_tokens (id, jti, user_id, kind, expires_at, created_at, revoked_at) VALUES (:id, :jti, :user_id, :kind, :expires_at, :created_at, :revoked_at) ON CONFLICT (jti) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("record issued token: %w", err)
	}
	return nil
}

// Revoke blacklists a token by jti. Tokens never recorded as outstanding are
// upserted so the revocation still sticks.
func (r *TokenRepository) Revoke(ctx context.Context, token *models.OutstandingToken) error {
	now := time.Now().UTC()
	token.RevokedAt = &now
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}

	const query = `INSERT INTO outstanding_tokens (id, jti, user_id, kind, expires_at, created_at, revoked_at) VALUES (:id, :jti, :user_id, :kind, :expires_at, :created_at, :revoked_at) ON CONFLICT (jti) DO UPDATE SET revoked_at = EXCLUDED.revoked_at`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	r.cacheDenylist(ctx, token.JTI, token.ExpiresAt)
	return nil
}

// IsRevoked reports whether the jti has been blacklisted.
func (r *TokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if r.cache != nil {
		n, err := r.cache.Exists(ctx, denylistKeyPrefix+jti).Result()
		if err != nil {
			r.logger.Warn("denylist cache lookup failed", zap.Error(err))
		} else if n > 0 {
			return true, nil
		}
	}

	const query = `SELECT revoked_at IS NOT NULL FROM outstanding_tokens WHERE jti = $1 LIMIT 1`
	var revoked bool
	if err := r.db.GetContext(ctx, &revoked, query, jti); err != nil {
		if err == sql.ErrNoRows {
			// Absence of a record is not revocation.
			return false, nil
		}
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return revoked, nil
}

// PurgeExpired removes bookkeeping rows whose tokens have expired anyway.
func (r *TokenRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM outstanding_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *TokenRepository) cacheDenylist(ctx context.Context, jti string, expiresAt time.Time) {
	if r.cache == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := r.cache.Set(ctx, denylistKeyPrefix+jti, "1", ttl).Err(); err != nil {
		r.logger.Warn("denylist cache write failed", zap.String("jti", jti), zap.Error(err))
	}
}
