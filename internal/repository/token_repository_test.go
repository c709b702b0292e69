package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
)

func TestRecordIssued(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db, nil, zap.NewNop())

	mock.ExpectExec("INSERT INTO outstanding_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.OutstandingToken{
		JTI:       "jti-1",
		UserID:    "u1",
		Kind:      models.TokenKindRefresh,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	err := repo.RecordIssued(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSetsRevokedAt(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db, nil, zap.NewNop())

	mock.ExpectExec("ON CONFLICT \\(jti\\) DO UPDATE SET revoked_at").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.OutstandingToken{
		JTI:       "jti-2",
		UserID:    "u1",
		Kind:      models.TokenKindAccess,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	err := repo.Revoke(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, token.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRevokedUnknownTokenIsNotRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db, nil, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT revoked_at IS NOT NULL FROM outstanding_tokens WHERE jti = $1 LIMIT 1")).
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	revoked, err := repo.IsRevoked(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRevokedTrueFromDatabase(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db, nil, zap.NewNop())

	rows := sqlmock.NewRows([]string{"revoked"}).AddRow(true)
	mock.ExpectQuery("SELECT revoked_at IS NOT NULL FROM outstanding_tokens").
		WithArgs("jti-3").
		WillReturnRows(rows)

	revoked, err := repo.IsRevoked(context.Background(), "jti-3")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}
