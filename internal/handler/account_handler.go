package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/service"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

// AccountHandler wires HTTP endpoints to the account lifecycle service.
type AccountHandler struct {
	service *service.AccountService
}

// NewAccountHandler creates a new handler.
func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{service: svc}
}

// Register godoc
// @Summary Register a new account
// @Description Create an unverified account and send the verification email
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/register [post]
func (h *AccountHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	res, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}

// VerifyEmail godoc
// @Summary Verify email address
// @Description Mark the account behind the token as verified; idempotent
// @Tags Accounts
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/verify-email/{token} [get]
func (h *AccountHandler) VerifyEmail(c *gin.Context) {
	info, err := h.service.VerifyEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"message": "email verified successfully", "user": info})
}

// ResendVerification godoc
// @Summary Re-send the verification email
// @Description Regenerate the verification token and re-send the email
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.ResendVerificationRequest true "Email payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/resend-verification [post]
func (h *AccountHandler) ResendVerification(c *gin.Context) {
	var req models.ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	msg, err := h.service.ResendVerification(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, msg)
}

// RequestPasswordReset godoc
// @Summary Request a password reset
// @Description Send a reset link; the response does not reveal whether the email exists
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.ResetPasswordRequest true "Email payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/password/reset [post]
func (h *AccountHandler) RequestPasswordReset(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.RequestPasswordReset(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "if the email exists, a reset link has been sent")
}

// ConfirmPasswordReset godoc
// @Summary Confirm a password reset
// @Description Set a new password using a reset token issued within the last 24 hours
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.ConfirmResetPasswordRequest true "Reset confirmation payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/password/reset/confirm [post]
func (h *AccountHandler) ConfirmPasswordReset(c *gin.Context) {
	var req models.ConfirmResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ConfirmPasswordReset(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "password has been reset, please log in again")
}

// UpdateMe godoc
// @Summary Update current user profile
// @Description Apply a partial update to the authenticated user's profile
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.UpdateProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [patch]
func (h *AccountHandler) UpdateMe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}

	info, err := h.service.UpdateProfile(c.Request.Context(), claims.UserID(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info)
}

// Me godoc
// @Summary Current user profile
// @Description Return the authenticated user's profile
// @Tags Accounts
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AccountHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info, err := h.service.Profile(c.Request.Context(), claims.UserID())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info)
}
