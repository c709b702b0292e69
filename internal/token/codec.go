package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

// Claims is the JWT payload for both access and refresh tokens. TokenVersion
// snapshots the user's counter at issuance; a token is rejected once the live
// counter exceeds it.
type Claims struct {
	Username     string           `json:"username"`
	Email        string           `json:"email"`
	FirstName    string           `json:"first_name,omitempty"`
	LastName     string           `json:"last_name,omitempty"`
	TokenVersion int              `json:"token_version"`
	Kind         models.TokenKind `json:"token_kind"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Codec signs and verifies tokens with a process-wide symmetric secret.
// It performs no store access; revocation checks live in the session layer.
type Codec struct {
	secret []byte
	issuer string
}

// NewCodec builds a codec from the signing secret and issuer name.
func NewCodec(secret, issuer string) *Codec {
	return &Codec{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token of the given kind for the user. A zero or negative ttl
// produces a token that is already expired and will never verify.
func (c *Codec) Issue(user *models.User, kind models.TokenKind, ttl time.Duration) (string, *Claims, error) {
	issuedAt := time.Now().UTC()
	claims := &Claims{
		Username:     user.Username,
		Email:        user.Email,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		TokenVersion: user.TokenVersion,
		Kind:         kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, claims, nil
}

// Verify parses the token and checks signature, expiry and structure. It does
// not consult the version counter or the blacklist.
func (c *Codec) Verify(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, "token is invalid or expired")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid token claims")
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token is missing required claims")
	}
	if claims.Kind != models.TokenKindAccess && claims.Kind != models.TokenKindRefresh {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "unknown token kind")
	}

	return claims, nil
}
