package service

import (
	"strings"
	"unicode"

	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

// commonPasswords is a small denylist of passwords too weak to accept even
// when they satisfy the structural rules.
var commonPasswords = map[string]struct{}{
	"password1": {}, "password123": {}, "qwerty123": {}, "letmein1": {},
	"welcome1": {}, "abc12345": {}, "iloveyou1": {}, "admin123": {},
}

// validatePasswordPolicy enforces the password rules shared by registration,
// password change and reset confirmation: at least 8 characters, at least one
// letter and one digit, not entirely numeric, not on the denylist.
func validatePasswordPolicy(password string) error {
	if len(password) < 8 {
		return appErrors.Clone(appErrors.ErrValidation, "password must be at least 8 characters long")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return appErrors.Clone(appErrors.ErrValidation, "password cannot be entirely numeric")
	}
	if !hasDigit {
		return appErrors.Clone(appErrors.ErrValidation, "password must contain at least one digit")
	}

	if _, found := commonPasswords[strings.ToLower(password)]; found {
		return appErrors.Clone(appErrors.ErrValidation, "password is too common")
	}

	return nil
}
