package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/pkg/config"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type federatedUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// OAuthService bridges Google federated login onto local accounts. Accounts
// are created implicitly on first login with a derived unique username and
// no usable password.
type OAuthService struct {
	users    federatedUserRepository
	sessions *AuthService
	oauth    *oauth2.Config
	logger   *zap.Logger
}

// NewOAuthService constructs the Google OAuth bridge.
func NewOAuthService(users federatedUserRepository, sessions *AuthService, cfg config.GoogleOAuthConfig, logger *zap.Logger) *OAuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthService{
		users:    users,
		sessions: sessions,
		logger:   logger,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

// LoginURL returns the Google consent page URL for the given state.
func (s *OAuthService) LoginURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// HandleCallback exchanges the authorization code, fetches the Google
// profile and logs the matching local account in.
func (s *OAuthService) HandleCallback(ctx context.Context, code string) (*models.TokenPairResponse, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "failed to exchange authorization code")
	}

	profile, err := s.fetchProfile(ctx, tok)
	if err != nil {
		return nil, err
	}

	return s.FederatedLogin(ctx, *profile)
}

// FederatedLogin finds or creates the account for a federated identity and
// issues a fresh token pair. It never fails on a missing account; creation
// is implicit.
func (s *OAuthService) FederatedLogin(ctx context.Context, profile models.FederatedProfile) (*models.TokenPairResponse, error) {
	email := strings.TrimSpace(strings.ToLower(profile.Email))
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "federated profile has no email")
	}

	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.Active {
			return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is disabled")
		}
		// The provider attests ownership of the address.
		if !user.EmailVerified {
			if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark email verified")
			}
			user.EmailVerified = true
		}
	case errors.Is(err, sql.ErrNoRows):
		user, err = s.createFederatedUser(ctx, email, profile)
		if err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up email")
	}

	pair, err := s.sessions.IssuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{UserID: &user.ID, Action: models.AuditActionOAuthLogin}); err != nil {
		s.logger.Warn("failed to record audit log", zap.Error(err))
	}

	return pair, nil
}

func (s *OAuthService) createFederatedUser(ctx context.Context, email string, profile models.FederatedProfile) (*models.User, error) {
	username, err := s.deriveUsername(ctx, email)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:      username,
		Email:         email,
		PasswordHash:  models.UnusablePasswordSentinel,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		EmailVerified: true,
		Active:        true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create federated user")
	}
	return user, nil
}

// deriveUsername builds a unique handle from the email local part,
// disambiguating collisions with a numeric suffix: alice, alice1, alice2, …
func (s *OAuthService) deriveUsername(ctx context.Context, email string) (string, error) {
	base := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		base = email[:at]
	}
	base = sanitizeUsername(base)
	if base == "" {
		base = "user"
	}

	candidate := base
	for i := 1; ; i++ {
		taken, err := s.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
}

func sanitizeUsername(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *OAuthService) fetchProfile(ctx context.Context, tok *oauth2.Token) (*models.FederatedProfile, error) {
	client := s.oauth.Client(ctx, tok)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user info")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, fmt.Sprintf("user info request failed: %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var profile models.FederatedProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode user info")
	}
	return &profile, nil
}
