package models

import (
	"strings"
	"time"
)

// UnusablePasswordSentinel marks accounts created through federated login.
// It can never match a bcrypt hash, so password login is impossible for them.
const UnusablePasswordSentinel = "!"

// User represents an account stored in the users table.
type User struct {
	ID           string  `db:"id" json:"id"`
	Username     string  `db:"username" json:"username"`
	Email        string  `db:"email" json:"email"`
	PasswordHash string  `db:"password_hash" json:"-"`
	FirstName    string  `db:"first_name" json:"first_name"`
	LastName     string  `db:"last_name" json:"last_name"`
	PhoneNumber  *string `db:"phone_number" json:"phone_number,omitempty"`
	DateOfBirth  *string `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Address      *string `db:"address" json:"address,omitempty"`
	Bio          *string `db:"bio" json:"bio,omitempty"`

	// TokenVersion invalidates every previously issued token when bumped.
	TokenVersion int `db:"token_version" json:"-"`

	EmailVerified     bool    `db:"email_verified" json:"email_verified"`
	VerificationToken *string `db:"email_verification_token" json:"-"`

	ResetToken         *string    `db:"password_reset_token" json:"-"`
	ResetTokenIssuedAt *time.Time `db:"password_reset_issued_at" json:"-"`

	Active    bool       `db:"active" json:"is_active"`
	LastLogin *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"date_joined"`
	UpdatedAt time.Time  `db:"updated_at" json:"-"`
}

// HasUsablePassword reports whether password login is possible for the user.
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != "" && !strings.HasPrefix(u.PasswordHash, UnusablePasswordSentinel)
}

// FullName joins the name parts for display and notifications.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Info converts the user to its public representation.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PhoneNumber:   u.PhoneNumber,
		DateOfBirth:   u.DateOfBirth,
		Address:       u.Address,
		Bio:           u.Bio,
		EmailVerified: u.EmailVerified,
		Active:        u.Active,
		LastLogin:     u.LastLogin,
		DateJoined:    u.CreatedAt,
	}
}
