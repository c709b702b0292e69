package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/service"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

// AuthHandler wires HTTP endpoints to the session lifecycle service.
type AuthHandler struct {
	service *service.AuthService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{service: svc}
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by username or email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh token pair
// @Description Exchange a refresh token for a fresh access and refresh token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/token/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}

	res, err := h.service.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Verify godoc
// @Summary Verify a token
// @Description Check a token's signature, expiry and revocation state
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.VerifyTokenRequest true "Token payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/token/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	var req models.VerifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "token required"))
		return
	}

	claims, err := h.service.VerifyToken(c.Request.Context(), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"valid":   true,
		"kind":    claims.Kind,
		"user_id": claims.UserID(),
		"exp":     claims.ExpiresAt.Unix(),
	})
}

// Logout godoc
// @Summary Logout current session
// @Description Blacklist the presented tokens and invalidate all other sessions
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LogoutRequest true "Logout payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "refresh token required"))
		return
	}

	if err := h.service.Logout(c.Request.Context(), claims.UserID(), req, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "logged out")
}

// ChangePassword godoc
// @Summary Change password
// @Description Change the current user's password and invalidate all sessions
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Change password payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/password/change [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid change password payload"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), claims.UserID(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "password changed, please log in again")
}
