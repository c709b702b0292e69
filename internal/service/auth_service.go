package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/token"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type authUserRepository interface {
	FindByUsernameOrEmail(ctx context.Context, login string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type outstandingTokenStore interface {
	RecordIssued(ctx context.Context, token *models.OutstandingToken) error
	Revoke(ctx context.Context, token *models.OutstandingToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthConfig defines token lifetimes for session issuance.
type AuthConfig struct {
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// AuthService owns the session lifecycle: issuing token pairs, validating
// them against revocation state, refresh, logout and password changes.
type AuthService struct {
	users     authUserRepository
	tokens    outstandingTokenStore
	codec     *token.Codec
	notify    *NotificationService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens outstandingTokenStore, codec *token.Codec, notify *NotificationService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		codec:     codec,
		notify:    notify,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// Login authenticates by username or email and returns an issued token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.HasUsablePassword() {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is disabled")
	}
	if !user.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrEmailNotVerified, "email not verified")
	}

	pair, err := s.IssuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, user.ID, models.AuditActionLogin, req.IP, req.UserAgent, nil)
	if s.metrics != nil {
		s.metrics.CountLogin()
	}

	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair stamped with the
// user's current token version. The presented refresh token stays usable
// until it expires or an explicit logout revokes it.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.codec.Verify(req.Refresh)
	if err != nil {
		return nil, err
	}
	if claims.Kind != models.TokenKindRefresh {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "not a refresh token")
	}

	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check token revocation")
	}
	if revoked {
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "refresh token has been revoked")
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is disabled")
	}
	if claims.TokenVersion < user.TokenVersion {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has been invalidated")
	}

	pair, err := s.IssuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, user.ID, models.AuditActionTokenRefresh, "", "", nil)
	if s.metrics != nil {
		s.metrics.CountRefresh()
	}

	return pair, nil
}

// Logout blacklists the presented token pair and bumps the user's token
// version, which invalidates every other outstanding token for the account.
// The blacklist catches the presented pair; the version bump catches the
// rest.
func (s *AuthService) Logout(ctx context.Context, userID string, req models.LogoutRequest, ip, userAgent string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}

	s.revokeIfOwned(ctx, userID, req.Refresh)
	if req.Access != "" {
		s.revokeIfOwned(ctx, userID, req.Access)
	}

	if _, err := s.users.IncrementTokenVersion(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate sessions")
	}

	s.audit(ctx, userID, models.AuditActionLogout, ip, userAgent, nil)
	if s.metrics != nil {
		s.metrics.CountRevocation()
	}
	return nil
}

// ValidateAccessToken verifies an access token against signature, expiry,
// kind, blacklist and the user's live token version. Used by the bearer
// middleware and the token verification endpoint.
func (s *AuthService) ValidateAccessToken(ctx context.Context, raw string) (*token.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Kind != models.TokenKindAccess {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "not an access token")
	}

	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check token revocation")
	}
	if revoked {
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "token has been revoked")
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is disabled")
	}
	if claims.TokenVersion < user.TokenVersion {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token version mismatch - user has logged out")
	}

	return claims, nil
}

// VerifyToken checks any token (access or refresh) for structural validity
// plus revocation state, without side effects.
func (s *AuthService) VerifyToken(ctx context.Context, raw string) (*token.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return nil, err
	}

	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check token revocation")
	}
	if revoked {
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "token has been revoked")
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if claims.TokenVersion < user.TokenVersion {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has been invalidated")
	}

	return claims, nil
}

// ChangePassword changes the password for the given user and invalidates all
// existing sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}
	if err := validatePasswordPolicy(req.NewPassword); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !user.HasUsablePassword() {
		return appErrors.Clone(appErrors.ErrForbidden, "password login is not enabled for this account")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if _, err := s.users.IncrementTokenVersion(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate sessions")
	}

	if s.notify != nil {
		s.notify.Dispatch(notifyPasswordChanged, user.FullName(), user.Email, "")
	}
	s.audit(ctx, userID, models.AuditActionPasswordChange, "", "", nil)

	return nil
}

// IssuePair signs an access and refresh token for the user, both stamped
// with the user's current token version, and records them as outstanding.
func (s *AuthService) IssuePair(ctx context.Context, user *models.User) (*models.TokenPairResponse, error) {
	access, accessClaims, err := s.codec.Issue(user, models.TokenKindAccess, s.config.AccessTokenExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refresh, refreshClaims, err := s.codec.Issue(user, models.TokenKindRefresh, s.config.RefreshTokenExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	for _, claims := range []*token.Claims{accessClaims, refreshClaims} {
		record := &models.OutstandingToken{
			JTI:       claims.ID,
			UserID:    user.ID,
			Kind:      claims.Kind,
			ExpiresAt: claims.ExpiresAt.Time,
		}
		if err := s.tokens.RecordIssued(ctx, record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record issued token")
		}
	}

	return &models.TokenPairResponse{
		Access:  access,
		Refresh: refresh,
		User:    user.Info(),
	}, nil
}

// revokeIfOwned blacklists a presented token when it parses and belongs to
// the user. Foreign or garbage tokens are ignored; the version bump covers
// everything the blacklist misses.
func (s *AuthService) revokeIfOwned(ctx context.Context, userID, raw string) {
	claims, err := s.codec.Verify(raw)
	if err != nil || claims.UserID() != userID {
		return
	}
	record := &models.OutstandingToken{
		JTI:       claims.ID,
		UserID:    userID,
		Kind:      claims.Kind,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.tokens.Revoke(ctx, record); err != nil {
		s.logger.Warn("failed to blacklist token", zap.String("jti", claims.ID), zap.Error(err))
	}
}

func (s *AuthService) audit(ctx context.Context, userID, action, ip, userAgent string, detail any) {
	entry := &models.AuditLog{
		UserID:    &userID,
		Action:    action,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = raw
		}
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
