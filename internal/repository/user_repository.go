package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/auth-api/internal/models"
)

const userColumns = `id, username, email, password_hash, first_name, last_name, phone_number, date_of_birth, address, bio, token_version, email_verified, email_verification_token, password_reset_token, password_reset_issued_at, active, last_login, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsernameOrEmail resolves a login identifier against either column,
// case-insensitively.
func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, login string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1) LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, login); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username or email: %w", err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByVerificationToken returns the user holding the verification token.
func (r *UserRepository) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email_verification_token = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by verification token: %w", err)
	}
	return &user, nil
}

// FindByResetToken returns the user holding the password reset token.
func (r *UserRepository) FindByResetToken(ctx context.Context, token string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE password_reset_token = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by reset token: %w", err)
	}
	return &user, nil
}

// UsernameExists reports whether a username is already taken.
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, username); err != nil {
		return false, fmt.Errorf("check username exists: %w", err)
	}
	return exists, nil
}

// EmailExists reports whether an email is already registered.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, password_hash, first_name, last_name, phone_number, date_of_birth, address, bio, token_version, email_verified, email_verification_token, password_reset_token, password_reset_issued_at, active, last_login, created_at, updated_at) VALUES (:id, :username, :email, :password_hash, :first_name, :last_name, :phone_number, :date_of_birth, :address, :bio, :token_version, :email_verified, :email_verification_token, :password_reset_token, :password_reset_issued_at, :active, :last_login, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateProfile writes the mutable profile columns from the given user.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET first_name = :first_name, last_name = :last_name, phone_number = :phone_number, date_of_birth = :date_of_birth, address = :address, bio = :bio, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetVerificationToken stores a fresh verification token for the user.
func (r *UserRepository) SetVerificationToken(ctx context.Context, id, token string) error {
	const query = `UPDATE users SET email_verification_token = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

// MarkEmailVerified flips the verification flag. The token row is kept so a
// repeated click on the same link resolves to the already-verified account
// instead of a dead link.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// SetResetToken stores a password reset token with its issue timestamp.
// Any previous pending token is replaced.
func (r *UserRepository) SetResetToken(ctx context.Context, id, token string, issuedAt time.Time) error {
	const query = `UPDATE users SET password_reset_token = $2, password_reset_issued_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, issuedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ClearResetToken removes any pending reset token.
func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `UPDATE users SET password_reset_token = NULL, password_reset_issued_at = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return nil
}

// IncrementTokenVersion bumps the per-user token version atomically and
// returns the new value. Concurrent bumps serialize on the row, so a revoked
// version can never be resurrected by a lost update.
func (r *UserRepository) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	const query = `UPDATE users SET token_version = token_version + 1, updated_at = $2 WHERE id = $1 RETURNING token_version`
	var version int
	if err := r.db.GetContext(ctx, &version, query, id, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("increment token version: %w", err)
	}
	return version, nil
}

// CreateAuditLog stores an audit trail entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, detail, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :detail, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
