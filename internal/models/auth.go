package models

import "time"

// RegisterRequest holds the payload for account creation.
type RegisterRequest struct {
	Username        string  `json:"username" validate:"required,min=3,max=150"`
	Email           string  `json:"email" validate:"required,email"`
	Password        string  `json:"password" validate:"required,min=8"`
	PasswordConfirm string  `json:"password_confirm" validate:"required,eqfield=Password"`
	FirstName       string  `json:"first_name" validate:"max=150"`
	LastName        string  `json:"last_name" validate:"max=150"`
	PhoneNumber     *string `json:"phone_number,omitempty" validate:"omitempty,e164|numeric"`
	DateOfBirth     *string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Address         *string `json:"address,omitempty"`
	Bio             *string `json:"bio,omitempty"`
}

// RegisterResponse reports the created account and whether the verification
// email went out. EmailSent=false does not undo the registration.
type RegisterResponse struct {
	User      UserInfo `json:"user"`
	EmailSent bool     `json:"email_sent"`
	Message   string   `json:"message"`
}

// LoginRequest holds credentials. Username accepts either the handle or the
// email address.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// TokenPairResponse returns the issued tokens and user info.
type TokenPairResponse struct {
	Access  string   `json:"access"`
	Refresh string   `json:"refresh"`
	User    UserInfo `json:"user"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// LogoutRequest revokes the presented pair and every other session.
type LogoutRequest struct {
	Refresh string `json:"refresh" validate:"required"`
	Access  string `json:"access"`
}

// VerifyTokenRequest checks a token's validity without side effects.
type VerifyTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// ChangePasswordRequest payload for an authenticated password change.
type ChangePasswordRequest struct {
	OldPassword        string `json:"old_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

// ResetPasswordRequest initiates the reset flow.
type ResetPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConfirmResetPasswordRequest completes the reset flow.
type ConfirmResetPasswordRequest struct {
	Token              string `json:"token" validate:"required,uuid"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

// ResendVerificationRequest re-sends the verification email.
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// UpdateProfileRequest carries a partial profile update. Nil fields are left
// untouched.
type UpdateProfileRequest struct {
	FirstName   *string `json:"first_name,omitempty" validate:"omitempty,max=150"`
	LastName    *string `json:"last_name,omitempty" validate:"omitempty,max=150"`
	PhoneNumber *string `json:"phone_number,omitempty" validate:"omitempty,e164|numeric"`
	DateOfBirth *string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Address     *string `json:"address,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// UserInfo describes a user in API responses.
type UserInfo struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	PhoneNumber   *string    `json:"phone_number,omitempty"`
	DateOfBirth   *string    `json:"date_of_birth,omitempty"`
	Address       *string    `json:"address,omitempty"`
	Bio           *string    `json:"bio,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	Active        bool       `json:"is_active"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	DateJoined    time.Time  `json:"date_joined"`
}

// FederatedProfile carries the attributes obtained from an OAuth provider.
type FederatedProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"given_name"`
	LastName  string `json:"family_name"`
}
