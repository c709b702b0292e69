package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/token"
)

func claimsFromContext(c *gin.Context) *token.Claims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}
