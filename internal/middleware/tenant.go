package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/tenancy"
)

// RequireTenant resolves the request's tenant from the token and the
// X-Tenant-ID header. Must run after Authenticate.
func RequireTenant(resolver *tenancy.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := resolver.Resolve(c.Request.Context(), GetClaims(c), c.GetHeader(tenancy.HeaderTenantID))
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(ContextKeyTenantID, tenantID)
		c.Next()
	}
}

// RequireTenantIfBound is RequireTenant for routes that pending persons may
// also call: a token without a tenant passes through unresolved.
func RequireTenantIfBound(resolver *tenancy.Resolver) gin.HandlerFunc {
	required := RequireTenant(resolver)
	return func(c *gin.Context) {
		if claims := GetClaims(c); claims != nil && !claims.HasTenant() {
			c.Next()
			return
		}
		required(c)
	}
}
