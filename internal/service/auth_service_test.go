package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/token"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type mockUserStore struct {
	user              *models.User
	findErr           error
	findByIDErr       error
	updatePasswordErr error
	incrementErr      error
	lastLoginUpdated  bool
	passwordUpdates   []string
	auditLogs         []*models.AuditLog
}

func (m *mockUserStore) FindByUsernameOrEmail(ctx context.Context, login string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.user, nil
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	return m.user, nil
}

func (m *mockUserStore) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockUserStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	m.passwordUpdates = append(m.passwordUpdates, passwordHash)
	if m.user != nil && m.user.ID == id {
		m.user.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockUserStore) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	if m.incrementErr != nil {
		return 0, m.incrementErr
	}
	m.user.TokenVersion++
	return m.user.TokenVersion, nil
}

func (m *mockUserStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockTokenStore struct {
	issued    map[string]*models.OutstandingToken
	revoked   map[string]bool
	recordErr error
	revokeErr error
	checkErr  error
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{
		issued:  make(map[string]*models.OutstandingToken),
		revoked: make(map[string]bool),
	}
}

func (m *mockTokenStore) RecordIssued(ctx context.Context, t *models.OutstandingToken) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.issued[t.JTI] = t
	return nil
}

func (m *mockTokenStore) Revoke(ctx context.Context, t *models.OutstandingToken) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	m.revoked[t.JTI] = true
	return nil
}

func (m *mockTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.revoked[jti], nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func activeUser(t *testing.T) *models.User {
	t.Helper()
	return &models.User{
		ID:            "user-1",
		Username:      "alice",
		Email:         "alice@example.com",
		PasswordHash:  hashPassword(t, "Sup3rSecret"),
		FirstName:     "Alice",
		LastName:      "Nguyen",
		EmailVerified: true,
		Active:        true,
	}
}

func newTestAuthService(repo *mockUserStore, tokens *mockTokenStore) *AuthService {
	codec := token.NewCodec("unit-test-secret", "auth-api-test")
	return NewAuthService(repo, tokens, codec, nil, nil, nil, nil, AuthConfig{
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func TestLoginSuccess(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	tokens := newMockTokenStore()
	svc := newTestAuthService(repo, tokens)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)
	assert.Equal(t, "alice", pair.User.Username)
	assert.True(t, repo.lastLoginUpdated)
	assert.Len(t, tokens.issued, 2)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "nope-nope"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginUnknownUser(t *testing.T) {
	repo := &mockUserStore{findErr: sql.ErrNoRows}
	svc := newTestAuthService(repo, newMockTokenStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "whatever1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginUnusablePassword(t *testing.T) {
	user := activeUser(t)
	user.PasswordHash = models.UnusablePasswordSentinel
	repo := &mockUserStore{user: user}
	svc := newTestAuthService(repo, newMockTokenStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginUnverifiedEmail(t *testing.T) {
	user := activeUser(t)
	user.EmailVerified = false
	repo := &mockUserStore{user: user}
	svc := newTestAuthService(repo, newMockTokenStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailNotVerified))
}

func TestLoginInactiveAccount(t *testing.T) {
	user := activeUser(t)
	user.Active = false
	repo := &mockUserStore{user: user}
	svc := newTestAuthService(repo, newMockTokenStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestRefreshIssuesNewPair(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	tokens := newMockTokenStore()
	svc := newTestAuthService(repo, tokens)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshRequest{Refresh: pair.Refresh})
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access, refreshed.Access)
	assert.Len(t, tokens.issued, 4)

	// The presented refresh token is not rotated and stays usable.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{Refresh: pair.Refresh})
	assert.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	pair, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{Refresh: pair.Access})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestRefreshAfterVersionBumpFails(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	pair, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	// A password reset elsewhere bumps the live version.
	repo.user.TokenVersion++

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{Refresh: pair.Refresh})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestLogoutInvalidatesAccessToken(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	tokens := newMockTokenStore()
	svc := newTestAuthService(repo, tokens)

	ctx := context.Background()
	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(ctx, pair.Access)
	require.NoError(t, err)

	err = svc.Logout(ctx, "user-1", models.LogoutRequest{Refresh: pair.Refresh, Access: pair.Access}, "", "")
	require.NoError(t, err)
	assert.Len(t, tokens.revoked, 2)
	assert.Equal(t, 1, repo.user.TokenVersion)

	_, err = svc.ValidateAccessToken(ctx, pair.Access)
	require.Error(t, err)

	_, err = svc.Refresh(ctx, models.RefreshRequest{Refresh: pair.Refresh})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenRevoked))
}

func TestLogoutIgnoresForeignRefreshToken(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	tokens := newMockTokenStore()
	svc := newTestAuthService(repo, tokens)

	ctx := context.Background()
	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	err = svc.Logout(ctx, "someone-else", models.LogoutRequest{Refresh: pair.Refresh}, "", "")
	require.NoError(t, err)
	assert.Empty(t, tokens.revoked)
}

func TestValidateAccessTokenRejectsRefreshKind(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	ctx := context.Background()
	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(ctx, pair.Refresh)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestValidateAccessTokenRevoked(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	tokens := newMockTokenStore()
	svc := newTestAuthService(repo, tokens)

	ctx := context.Background()
	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	for jti := range tokens.issued {
		tokens.revoked[jti] = true
	}

	_, err = svc.ValidateAccessToken(ctx, pair.Access)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenRevoked))
}

func TestVerifyTokenAcceptsBothKinds(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	ctx := context.Background()
	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.NoError(t, err)

	accessClaims, err := svc.VerifyToken(ctx, pair.Access)
	require.NoError(t, err)
	assert.Equal(t, models.TokenKindAccess, accessClaims.Kind)

	refreshClaims, err := svc.VerifyToken(ctx, pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, models.TokenKindRefresh, refreshClaims.Kind)
}

func TestChangePasswordSuccess(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword:        "Sup3rSecret",
		NewPassword:        "Fresh3rSecret",
		NewPasswordConfirm: "Fresh3rSecret",
	})
	require.NoError(t, err)
	require.Len(t, repo.passwordUpdates, 1)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.user.PasswordHash), []byte("Fresh3rSecret")))
	assert.Equal(t, 1, repo.user.TokenVersion)
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword:        "wrong-old-1",
		NewPassword:        "Fresh3rSecret",
		NewPasswordConfirm: "Fresh3rSecret",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, repo.passwordUpdates)
	assert.Equal(t, 0, repo.user.TokenVersion)
}

func TestChangePasswordRejectsWeakPassword(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword:        "Sup3rSecret",
		NewPassword:        "12345678",
		NewPasswordConfirm: "12345678",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestChangePasswordMismatchedConfirmation(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	svc := newTestAuthService(repo, newMockTokenStore())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword:        "Sup3rSecret",
		NewPassword:        "Fresh3rSecret",
		NewPasswordConfirm: "Different1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestIssuePairFailsWhenRecordingFails(t *testing.T) {
	repo := &mockUserStore{user: activeUser(t)}
	tokens := newMockTokenStore()
	tokens.recordErr = assert.AnError
	svc := newTestAuthService(repo, tokens)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "Sup3rSecret"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}
