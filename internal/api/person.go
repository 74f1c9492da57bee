package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"go.uber.org/zap"
)

type PersonHandler struct {
	auth   *auth.Service
	logger *zap.Logger
}

func NewPersonHandler(authSvc *auth.Service, logger *zap.Logger) *PersonHandler {
	return &PersonHandler{auth: authSvc, logger: logger}
}

// Me handles GET /v1/me
func (h *PersonHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	person, err := h.auth.Me(c.Request.Context(), claims.PersonID)
	if err != nil {
		respondError(c, h.logger, "load person failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"person":    person,
		"role":      claims.Role,
		"tenant_id": claims.TenantID,
	})
}
