package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/service"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

// ContextUserKey is the gin context key storing the validated claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid, unrevoked access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present but never blocks.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), raw)
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
