package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type accountUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByVerificationToken(ctx context.Context, token string) (*models.User, error)
	FindByResetToken(ctx context.Context, token string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	SetVerificationToken(ctx context.Context, id, token string) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, token string, issuedAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AccountConfig carries the knobs for registration and recovery flows.
type AccountConfig struct {
	// BaseURL is the externally reachable origin used to build verification
	// and reset links.
	BaseURL string
	// ResetTokenValidity bounds how long a password reset token is accepted.
	ResetTokenValidity time.Duration
}

// AccountService drives the account lifecycle: registration, email
// verification and password recovery.
type AccountService struct {
	users     accountUserRepository
	notify    *NotificationService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AccountConfig
	now       func() time.Time
}

// NewAccountService constructs an AccountService instance.
func NewAccountService(users accountUserRepository, notify *NotificationService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AccountConfig) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.ResetTokenValidity <= 0 {
		config.ResetTokenValidity = 24 * time.Hour
	}
	return &AccountService{
		users:     users,
		notify:    notify,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an unverified account and sends the verification email.
// The account is created even when delivery fails; the response reports the
// delivery outcome separately.
func (s *AccountService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if err := validatePasswordPolicy(req.Password); err != nil {
		return nil, err
	}

	taken, err := s.users.UsernameExists(ctx, req.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a user with that username already exists")
	}

	taken, err = s.users.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a user with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	verificationToken := uuid.NewString()
	user := &models.User{
		Username:          req.Username,
		Email:             req.Email,
		PasswordHash:      string(hash),
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		PhoneNumber:       req.PhoneNumber,
		DateOfBirth:       req.DateOfBirth,
		Address:           req.Address,
		Bio:               req.Bio,
		EmailVerified:     false,
		VerificationToken: &verificationToken,
		Active:            true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	emailSent := true
	message := "registration successful, please check your email to verify your account"
	if err := s.notify.SendVerificationNow(ctx, user.FullName(), user.Email, s.verificationURL(verificationToken)); err != nil {
		emailSent = false
		message = "registration successful, but the verification email could not be sent"
		s.logger.Warn("failed to send verification email", zap.String("email", user.Email), zap.Error(err))
	}

	s.audit(ctx, user.ID, models.AuditActionRegister, "", "")
	if s.metrics != nil {
		s.metrics.CountRegistration()
	}

	return &models.RegisterResponse{User: user.Info(), EmailSent: emailSent, Message: message}, nil
}

// VerifyEmail marks the account behind the token as verified. Verification
// is one-way and idempotent: a second call with the same token succeeds
// without re-sending the welcome notification.
func (s *AccountService) VerifyEmail(ctx context.Context, rawToken string) (*models.UserInfo, error) {
	if _, err := uuid.Parse(rawToken); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid verification token")
	}

	user, err := s.users.FindByVerificationToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid verification token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up verification token")
	}

	if user.EmailVerified {
		info := user.Info()
		return &info, nil
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark email verified")
	}
	user.EmailVerified = true

	s.notify.Dispatch(notifyWelcome, user.FullName(), user.Email, s.config.BaseURL)
	s.audit(ctx, user.ID, models.AuditActionEmailVerified, "", "")

	info := user.Info()
	return &info, nil
}

// ResendVerification regenerates the verification token and re-sends the
// email. Unknown addresses get the same generic success as known ones;
// already-verified accounts are reported distinctly.
func (s *AccountService) ResendVerification(ctx context.Context, req models.ResendVerificationRequest) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	const genericMessage = "if the email exists, a verification link has been sent"

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return genericMessage, nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up email")
	}

	if user.EmailVerified {
		return "email is already verified", nil
	}

	verificationToken := uuid.NewString()
	if err := s.users.SetVerificationToken(ctx, user.ID, verificationToken); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store verification token")
	}

	if err := s.notify.SendVerificationNow(ctx, user.FullName(), user.Email, s.verificationURL(verificationToken)); err != nil {
		s.logger.Warn("failed to re-send verification email", zap.String("email", user.Email), zap.Error(err))
		return "", appErrors.Wrap(err, appErrors.ErrNotification.Code, appErrors.ErrNotification.Status, "failed to send verification email")
	}

	return genericMessage, nil
}

// RequestPasswordReset issues a reset token and emails the reset link. The
// externally observable outcome is identical whether or not the email exists.
func (s *AccountService) RequestPasswordReset(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Same outcome as the found case.
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up email")
	}

	resetToken := uuid.NewString()
	if err := s.users.SetResetToken(ctx, user.ID, resetToken, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reset token")
	}

	s.notify.Dispatch(notifyPasswordReset, user.FullName(), user.Email, s.resetURL(resetToken))
	s.audit(ctx, user.ID, models.AuditActionPasswordReset, "", "")

	return nil
}

// ConfirmPasswordReset consumes a reset token within its validity window,
// sets the new password and invalidates every existing session.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if err := validatePasswordPolicy(req.NewPassword); err != nil {
		return err
	}

	user, err := s.users.FindByResetToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidToken, "invalid or expired reset token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up reset token")
	}

	if user.ResetToken == nil || *user.ResetToken != req.Token || user.ResetTokenIssuedAt == nil {
		return appErrors.Clone(appErrors.ErrInvalidToken, "invalid or expired reset token")
	}
	if s.now().Sub(*user.ResetTokenIssuedAt) > s.config.ResetTokenValidity {
		return appErrors.Clone(appErrors.ErrInvalidToken, "reset token has expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if err := s.users.ClearResetToken(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear reset token")
	}
	if _, err := s.users.IncrementTokenVersion(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate sessions")
	}

	s.notify.Dispatch(notifyPasswordChanged, user.FullName(), user.Email, "")
	s.audit(ctx, user.ID, models.AuditActionPasswordChange, "", "")

	return nil
}

// UpdateProfile applies a partial profile update and returns the refreshed
// representation. Absent fields are left as they are.
func (s *AccountService) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.PhoneNumber != nil {
		user.PhoneNumber = req.PhoneNumber
	}
	if req.DateOfBirth != nil {
		user.DateOfBirth = req.DateOfBirth
	}
	if req.Address != nil {
		user.Address = req.Address
	}
	if req.Bio != nil {
		user.Bio = req.Bio
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	info := user.Info()
	return &info, nil
}

// Profile returns the public representation of the given account.
func (s *AccountService) Profile(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := user.Info()
	return &info, nil
}

func (s *AccountService) verificationURL(token string) string {
	return fmt.Sprintf("%s/api/v1/auth/verify-email/%s", s.config.BaseURL, token)
}

func (s *AccountService) resetURL(token string) string {
	return fmt.Sprintf("%s/api/v1/auth/password/reset/confirm?token=%s", s.config.BaseURL, token)
}

func (s *AccountService) audit(ctx context.Context, userID, action, ip, userAgent string) {
	entry := &models.AuditLog{UserID: &userID, Action: action, IPAddress: ip, UserAgent: userAgent}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
