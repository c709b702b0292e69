package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/auth-api/internal/service"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

const oauthStateCookie = "oauth_state"

// OAuthHandler exposes the Google federated login endpoints.
type OAuthHandler struct {
	service *service.OAuthService
}

// NewOAuthHandler creates a new handler.
func NewOAuthHandler(svc *service.OAuthService) *OAuthHandler {
	return &OAuthHandler{service: svc}
}

// Login godoc
// @Summary Start Google login
// @Description Redirect to the Google consent page
// @Tags Authentication
// @Success 307
// @Router /auth/google/login [get]
func (h *OAuthHandler) Login(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.service.LoginURL(state))
}

// Callback godoc
// @Summary Google login callback
// @Description Exchange the authorization code and issue a local token pair
// @Tags Authentication
// @Produce json
// @Param code query string true "Authorization code"
// @Param state query string true "Opaque state"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/google/callback [get]
func (h *OAuthHandler) Callback(c *gin.Context) {
	expected, err := c.Cookie(oauthStateCookie)
	if err != nil || expected == "" || c.Query("state") != expected {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "state mismatch"))
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "missing authorization code"))
		return
	}

	pair, err := h.service.HandleCallback(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, pair)
}
