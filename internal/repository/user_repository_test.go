package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func userRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "first_name", "last_name",
		"phone_number", "date_of_birth", "address", "bio", "token_version",
		"email_verified", "email_verification_token", "password_reset_token",
		"password_reset_issued_at", "active", "last_login", "created_at", "updated_at",
	}).AddRow("u1", "alice", "alice@x.com", "hash", "Alice", "Smith",
		nil, nil, nil, nil, 2,
		true, nil, nil,
		nil, true, nil, now, now)
}

func TestFindByUsernameOrEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)")).
		WithArgs("ALICE@X.COM").
		WillReturnRows(userRows())

	user, err := repo.FindByUsernameOrEmail(context.Background(), "ALICE@X.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, 2, user.TokenVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByVerificationTokenNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("email_verification_token").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByVerificationToken(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Username: "bob", Email: "bob@x.com", PasswordHash: "hash", Active: true}
	err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementTokenVersionReturnsNewValue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"token_version"}).AddRow(5)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET token_version = token_version + 1, updated_at = $2 WHERE id = $1 RETURNING token_version")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	version, err := repo.IncrementTokenVersion(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailVerified(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkEmailVerified(context.Background(), "u1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAndClearResetToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	issued := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_reset_token = $2, password_reset_issued_at = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("u1", "tok", issued, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_reset_token = NULL, password_reset_issued_at = NULL, updated_at = $2 WHERE id = $1")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetResetToken(context.Background(), "u1", "tok", issued))
	require.NoError(t, repo.ClearResetToken(context.Background(), "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileTouchesUpdatedAt(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET first_name").
		WillReturnResult(sqlmock.NewResult(0, 1))

	phone := "+84901234567"
	user := &models.User{ID: "u1", FirstName: "Alice", LastName: "Smith", PhoneNumber: &phone}
	err := repo.UpdateProfile(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, user.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsernameExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))")).
		WithArgs("alice").
		WillReturnRows(rows)

	exists, err := repo.UsernameExists(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
