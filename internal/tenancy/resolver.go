// Package tenancy decides which tenant a request acts for and manages the
// memberships that grant access to tenants.
package tenancy

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/observ"
	"github.com/lalith-99/tenantgate/internal/repository"
)

// HeaderTenantID names the request header that must echo the token's tenant.
const HeaderTenantID = "X-Tenant-ID"

type Resolver struct {
	tenants repository.TenantRepository
	metrics *observ.Metrics
}

func NewResolver(tenants repository.TenantRepository, metrics *observ.Metrics) *Resolver {
	return &Resolver{tenants: tenants, metrics: metrics}
}

// Resolve returns the tenant the request acts for.
//
// How the tenant is decided:
//   - The token decides. A pending token (no tenant selected yet) is
//     refused with no_tenant_selected whatever the header says.
//   - The X-Tenant-ID header only has to agree with it. A missing header,
//     a header that is not a UUID, or a header naming another tenant is
//     refused before the database is touched.
//   - The tenant is then loaded so a deleted or deactivated tenant stops
//     working immediately, even while its tokens are still valid.
//
// Every refusal is counted by error code.
func (r *Resolver) Resolve(ctx context.Context, claims *auth.Claims, header string) (uuid.UUID, error) {
	tenantID, err := r.resolve(ctx, claims, header)
	if err != nil {
		if e := apperr.As(err); e != nil {
			r.metrics.TenantResolutionFailed(string(e.Code))
		}
		return uuid.Nil, err
	}
	return tenantID, nil
}

func (r *Resolver) resolve(ctx context.Context, claims *auth.Claims, header string) (uuid.UUID, error) {
	if claims == nil || !claims.HasTenant() {
		return uuid.Nil, apperr.ErrNoTenantSelected
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return uuid.Nil, apperr.ErrMissingTenantHeader
	}
	requested, err := uuid.Parse(header)
	if err != nil {
		return uuid.Nil, apperr.Validation(HeaderTenantID + " must be a UUID")
	}
	if requested != *claims.TenantID {
		return uuid.Nil, apperr.ErrTenantMismatch
	}

	tenant, err := r.tenants.GetByID(ctx, requested)
	if err != nil {
		return uuid.Nil, err
	}
	if tenant == nil {
		return uuid.Nil, apperr.ErrTenantNotFound
	}
	if !tenant.IsActive {
		return uuid.Nil, apperr.ErrTenantInactive
	}
	return tenant.ID, nil
}
