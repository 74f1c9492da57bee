package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/tenancy"
	"go.uber.org/zap"
)

// AuthHandler serves the /auth endpoints: credential flows that mint
// tokens, and the tenant flows that rebind them.
type AuthHandler struct {
	auth    *auth.Service
	tenancy *tenancy.Service
	logger  *zap.Logger
}

func NewAuthHandler(authSvc *auth.Service, tenancySvc *tenancy.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: authSvc, tenancy: tenancySvc, logger: logger}
}

type userResponse struct {
	ID        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      models.Role `json:"role"`
}

type tenantResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
}

// tokenResponse is what every token-minting endpoint returns. The client
// sends access_token as "Authorization: Bearer <token>" and, once a tenant
// is bound, tenant.id as X-Tenant-ID.
type tokenResponse struct {
	AccessToken      string          `json:"access_token"`
	RefreshToken     string          `json:"refresh_token"`
	TokenType        string          `json:"token_type"`
	ExpiresIn        int64           `json:"expires_in"`
	RefreshExpiresIn int64           `json:"refresh_expires_in"`
	User             userResponse    `json:"user"`
	Tenant           *tenantResponse `json:"tenant"`
}

func newTokenResponse(person *models.Person, tenant *models.Tenant, role models.Role, tokens auth.TokenPair) tokenResponse {
	now := time.Now()
	resp := tokenResponse{
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(tokens.AccessExpiresAt.Sub(now).Seconds()),
		RefreshExpiresIn: int64(tokens.RefreshExpiresAt.Sub(now).Seconds()),
		User: userResponse{
			ID:        person.ID,
			Email:     person.Email,
			FirstName: person.FirstName(),
			LastName:  person.LastName(),
			Role:      role,
		},
	}
	if tenant != nil {
		resp.Tenant = &tenantResponse{ID: tenant.ID, Name: tenant.Name, Subdomain: tenant.Subdomain}
	}
	return resp
}

func sessionResponse(s *auth.Session) tokenResponse {
	return newTokenResponse(s.Person, s.Tenant, s.Role, s.Tokens)
}

type loginRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	TenantSubdomain string `json:"tenant_subdomain" binding:"omitempty,subdomain"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, req.TenantSubdomain)
	if err != nil {
		respondError(c, h.logger, "login failed", err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(sess))
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required,max=100"`
	LastName  string `json:"last_name" binding:"required,max=100"`
	Password  string `json:"password" binding:"required,min=8"`
	Phone     string `json:"phone" binding:"omitempty,max=32"`
}

// PersonRegister handles POST /auth/person-register. The new person has
// no tenant until they join or create one.
func (h *AuthHandler) PersonRegister(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.auth.RegisterPerson(c.Request.Context(), auth.RegisterInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Phone:     req.Phone,
	})
	if err != nil {
		respondError(c, h.logger, "register failed", err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(sess))
}

type joinTenantRequest struct {
	TenantSubdomain string `json:"tenant_subdomain" binding:"required,subdomain"`
}

// JoinTenant handles POST /auth/join-tenant
func (h *AuthHandler) JoinTenant(c *gin.Context) {
	var req joinTenantRequest
	if !bindJSON(c, &req) {
		return
	}
	personID := middleware.GetPersonID(c)
	grant, err := h.tenancy.JoinTenant(c.Request.Context(), personID, req.TenantSubdomain)
	if err != nil {
		respondError(c, h.logger, "join tenant failed", err)
		return
	}
	h.respondGrant(c, http.StatusOK, grant)
}

type createTenantRequest struct {
	TenantName      string `json:"tenant_name" binding:"required,max=255"`
	TenantSubdomain string `json:"tenant_subdomain" binding:"required,subdomain"`
}

// CreateTenant handles POST /auth/create-tenant
func (h *AuthHandler) CreateTenant(c *gin.Context) {
	var req createTenantRequest
	if !bindJSON(c, &req) {
		return
	}
	personID := middleware.GetPersonID(c)
	grant, err := h.tenancy.CreateAndJoinTenant(c.Request.Context(), personID, req.TenantName, req.TenantSubdomain)
	if err != nil {
		respondError(c, h.logger, "create tenant failed", err)
		return
	}
	h.respondGrant(c, http.StatusCreated, grant)
}

type selectTenantRequest struct {
	TenantID string `json:"tenant_id" binding:"required,uuid"`
}

// SelectTenant handles POST /auth/select-tenant
func (h *AuthHandler) SelectTenant(c *gin.Context) {
	var req selectTenantRequest
	if !bindJSON(c, &req) {
		return
	}
	tenantID := uuid.MustParse(req.TenantID)
	grant, err := h.tenancy.SelectTenant(c.Request.Context(), middleware.GetPersonID(c), tenantID)
	if err != nil {
		respondError(c, h.logger, "select tenant failed", err)
		return
	}
	h.respondGrant(c, http.StatusOK, grant)
}

func (h *AuthHandler) respondGrant(c *gin.Context, status int, grant *tenancy.Grant) {
	person, err := h.auth.Me(c.Request.Context(), grant.Membership.PersonID)
	if err != nil {
		respondError(c, h.logger, "load person failed", err)
		return
	}
	c.JSON(status, newTokenResponse(person, grant.Tenant, grant.Membership.Role, grant.Tokens))
}

// ListTenants handles GET /auth/tenants
func (h *AuthHandler) ListTenants(c *gin.Context) {
	tenants, err := h.tenancy.ListAccessibleTenants(c.Request.Context(), middleware.GetPersonID(c))
	if err != nil {
		respondError(c, h.logger, "list tenants failed", err)
		return
	}
	out := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, tenantResponse{ID: t.ID, Name: t.Name, Subdomain: t.Subdomain})
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh handles POST /auth/refresh. The presented refresh token is
// spent; the response carries its replacement.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, "refresh failed", err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(sess))
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.auth.Logout(c.Request.Context(), middleware.GetClaims(c), middleware.GetAccessToken(c), req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, "logout failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
