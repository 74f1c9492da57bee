package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/auth"
	"go.uber.org/zap"
)

type OAuthHandler struct {
	auth        *auth.Service
	redirectURL string
	logger      *zap.Logger
}

// NewOAuthHandler takes the redirect URL used when a request names none.
func NewOAuthHandler(authSvc *auth.Service, redirectURL string, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{auth: authSvc, redirectURL: redirectURL, logger: logger}
}

func (h *OAuthHandler) redirect(requested string) string {
	if requested != "" {
		return requested
	}
	return h.redirectURL
}

type oauthURLRequest struct {
	Provider        string `json:"provider" binding:"required"`
	TenantSubdomain string `json:"tenant_subdomain" binding:"required,subdomain"`
	RedirectURL     string `json:"redirect_url" binding:"omitempty,url"`
	// Register starts a sign-up that founds the tenant instead of a sign-in
	// to an existing one.
	Register bool `json:"register"`
}

// URL handles POST /auth/oauth/url
func (h *OAuthHandler) URL(c *gin.Context) {
	var req oauthURLRequest
	if !bindJSON(c, &req) {
		return
	}
	start := h.auth.OAuthURL
	if req.Register {
		start = h.auth.OAuthRegisterURL
	}
	authURL, state, err := start(c.Request.Context(), req.Provider, req.TenantSubdomain, h.redirect(req.RedirectURL))
	if err != nil {
		respondError(c, h.logger, "oauth url failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": authURL, "state": state})
}

type oauthCallbackRequest struct {
	Provider        string `json:"provider" binding:"required"`
	Code            string `json:"code" binding:"required"`
	State           string `json:"state" binding:"required"`
	TenantSubdomain string `json:"tenant_subdomain" binding:"required,subdomain"`
	RedirectURL     string `json:"redirect_url" binding:"omitempty,url"`
}

// Callback handles POST /auth/oauth/callback
func (h *OAuthHandler) Callback(c *gin.Context) {
	var req oauthCallbackRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.auth.AuthenticateOAuth(c.Request.Context(), auth.OAuthCallback{
		Provider:        req.Provider,
		Code:            req.Code,
		State:           req.State,
		TenantSubdomain: req.TenantSubdomain,
		RedirectURL:     h.redirect(req.RedirectURL),
	})
	if err != nil {
		respondError(c, h.logger, "oauth callback failed", err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(sess))
}

type oauthRegisterRequest struct {
	oauthCallbackRequest
	TenantName string `json:"tenant_name" binding:"required,max=255"`
}

// Register handles POST /auth/oauth/register. It creates the person, the
// tenant and the founding membership, then answers like a sign-in.
func (h *OAuthHandler) Register(c *gin.Context) {
	var req oauthRegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.auth.RegisterOAuth(c.Request.Context(), auth.OAuthRegistration{
		OAuthCallback: auth.OAuthCallback{
			Provider:        req.Provider,
			Code:            req.Code,
			State:           req.State,
			TenantSubdomain: req.TenantSubdomain,
			RedirectURL:     h.redirect(req.RedirectURL),
		},
		TenantName: req.TenantName,
	})
	if err != nil {
		respondError(c, h.logger, "oauth registration failed", err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(sess))
}
