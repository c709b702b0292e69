package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/internal/token"
)

type stubUserRepo struct {
	user *models.User
}

func (s *stubUserRepo) FindByUsernameOrEmail(ctx context.Context, login string) (*models.User, error) {
	if s.user == nil {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *stubUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (s *stubUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if s.user != nil && s.user.ID == id {
		s.user.PasswordHash = passwordHash
	}
	return nil
}

func (s *stubUserRepo) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	s.user.TokenVersion++
	return s.user.TokenVersion, nil
}

func (s *stubUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type stubTokenStore struct {
	revoked map[string]bool
}

func (s *stubTokenStore) RecordIssued(ctx context.Context, t *models.OutstandingToken) error {
	return nil
}

func (s *stubTokenStore) Revoke(ctx context.Context, t *models.OutstandingToken) error {
	s.revoked[t.JTI] = true
	return nil
}

func (s *stubTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked[jti], nil
}

func testUser(t *testing.T) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Sup3rSecret"), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:            "user-1",
		Username:      "alice",
		Email:         "alice@example.com",
		PasswordHash:  string(hash),
		EmailVerified: true,
		Active:        true,
	}
}

func newTestRouter(t *testing.T, repo *stubUserRepo) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	codec := token.NewCodec("handler-test-secret", "auth-api-test")
	authSvc := service.NewAuthService(repo, &stubTokenStore{revoked: map[string]bool{}}, codec, nil, nil, nil, nil, service.AuthConfig{
		AccessTokenExpiry:  time.Minute,
		RefreshTokenExpiry: time.Hour,
	})
	authHandler := NewAuthHandler(authSvc)

	r := gin.New()
	auth := r.Group("/api/v1/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/token/refresh", authHandler.Refresh)
	auth.POST("/token/verify", authHandler.Verify)

	protected := auth.Group("")
	protected.Use(middleware.JWT(authSvc))
	protected.POST("/logout", authHandler.Logout)
	protected.POST("/password/change", authHandler.ChangePassword)

	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func loginPair(t *testing.T, r *gin.Engine) models.TokenPairResponse {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "Sup3rSecret"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data models.TokenPairResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestLoginEndpoint(t *testing.T) {
	r := newTestRouter(t, &stubUserRepo{user: testUser(t)})

	pair := loginPair(t, r)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)
	assert.Equal(t, "alice", pair.User.Username)
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	r := newTestRouter(t, &stubUserRepo{user: testUser(t)})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_CREDENTIALS")
}

func TestLoginEndpointMalformedBody(t *testing.T) {
	r := newTestRouter(t, &stubUserRepo{user: testUser(t)})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	r := newTestRouter(t, &stubUserRepo{user: testUser(t)})

	pair := loginPair(t, r)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/token/refresh", gin.H{"refresh": pair.Refresh}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	r := newTestRouter(t, &stubUserRepo{user: testUser(t)})

	pair := loginPair(t, r)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/token/verify", gin.H{"token": pair.Access}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/auth/token/verify", gin.H{"token": "garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpointInvalidatesSession(t *testing.T) {
	repo := &stubUserRepo{user: testUser(t)}
	r := newTestRouter(t, repo)

	pair := loginPair(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/logout", gin.H{"refresh": pair.Refresh, "access": pair.Access}, pair.Access)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The bearer token is dead after logout.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/auth/logout", gin.H{"refresh": pair.Refresh}, pair.Access)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpointRequiresBearer(t *testing.T) {
	r := newTestRouter(t, &stubUserRepo{user: testUser(t)})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/logout", gin.H{"refresh": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	repo := &stubUserRepo{user: testUser(t)}
	r := newTestRouter(t, repo)

	pair := loginPair(t, r)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/password/change", gin.H{
		"old_password":         "Sup3rSecret",
		"new_password":         "Fresh3rSecret",
		"new_password_confirm": "Fresh3rSecret",
	}, pair.Access)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The version bump kills the old access token.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/auth/password/change", gin.H{
		"old_password":         "Fresh3rSecret",
		"new_password":         "Y3tAnother",
		"new_password_confirm": "Y3tAnother",
	}, pair.Access)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
