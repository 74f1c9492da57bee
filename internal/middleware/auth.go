package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/models"
)

// Context keys for values the middleware chain stores in gin.Context.
const (
	ContextKeyClaims      = "claims"
	ContextKeyAccessToken = "access_token"
	ContextKeyTenantID    = "tenant_id"
)

// abort writes the error body for err and stops the chain.
func abort(c *gin.Context, err error) {
	status, body := apperr.Render(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// Authenticate validates the bearer access token, including the
// revocation check, and stores its claims for the handlers that follow.
// It does not resolve the tenant; see RequireTenant.
func Authenticate(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, apperr.ErrTokenMalformed)
			return
		}

		claims, err := validator.Validate(c.Request.Context(), token, models.TokenAccess)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyAccessToken, token)
		c.Next()
	}
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// ---------------------------------------------------------------
// Helpers for handlers to read what the middleware stored.
// They return zero values when the key is missing so a handler
// mounted without the middleware fails closed.
// ---------------------------------------------------------------

func GetClaims(c *gin.Context) *auth.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, _ := val.(*auth.Claims)
	return claims
}

func GetAccessToken(c *gin.Context) string {
	return c.GetString(ContextKeyAccessToken)
}

func GetPersonID(c *gin.Context) uuid.UUID {
	if claims := GetClaims(c); claims != nil {
		return claims.PersonID
	}
	return uuid.Nil
}

// GetTenantID returns the tenant resolved by RequireTenant, or uuid.Nil.
func GetTenantID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyTenantID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
