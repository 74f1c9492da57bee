package tenancy

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository"
	"go.uber.org/zap"
)

// Grant is a membership together with the tenant-bound tokens it earned.
type Grant struct {
	Tenant     *models.Tenant
	Membership *models.Membership
	Tokens     auth.TokenPair
}

type Service struct {
	tenants     repository.TenantRepository
	memberships repository.MembershipRepository
	issuer      *auth.Issuer
	logger      *zap.Logger
}

func NewService(tenants repository.TenantRepository, memberships repository.MembershipRepository, issuer *auth.Issuer, logger *zap.Logger) *Service {
	return &Service{tenants: tenants, memberships: memberships, issuer: issuer, logger: logger}
}

func (s *Service) ListAccessibleTenants(ctx context.Context, personID uuid.UUID) ([]models.Tenant, error) {
	return s.memberships.ListAccessibleTenants(ctx, personID)
}

// JoinTenant adds the person to an existing tenant as an internal member
// with standard access. The first membership a person gets is primary.
func (s *Service) JoinTenant(ctx context.Context, personID uuid.UUID, subdomain string) (*Grant, error) {
	subdomain, err := checkSubdomain(subdomain)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, apperr.ErrTenantNotFound
	}
	if !tenant.IsActive {
		return nil, apperr.ErrTenantInactive
	}

	existing, err := s.memberships.ListByPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if err := joinable(existing, tenant.ID); err != nil {
		return nil, err
	}

	membership, err := s.memberships.Create(ctx, models.Membership{
		PersonID:    personID,
		TenantID:    tenant.ID,
		Role:        models.RoleInternal,
		AccessLevel: []string{models.AccessStandard},
		IsPrimary:   len(existing) == 0,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.ErrAlreadyMember
		}
		return nil, err
	}

	s.logger.Info("person joined tenant",
		zap.String("person_id", personID.String()),
		zap.String("tenant_id", tenant.ID.String()),
	)
	return s.grant(tenant, membership)
}

// joinable refuses a second membership in the same tenant. A deactivated
// membership is not reopened by joining again; an admin has to restore it.
func joinable(existing []models.Membership, tenantID uuid.UUID) error {
	deactivated := false
	for _, m := range existing {
		if m.TenantID != tenantID {
			continue
		}
		if m.IsActive {
			return apperr.ErrAlreadyMember
		}
		deactivated = true
	}
	if deactivated {
		return apperr.ErrMemberInactive
	}
	return nil
}

// CreateAndJoinTenant provisions a tenant and makes the creator its
// primary internal admin. Neither row exists if either insert fails.
func (s *Service) CreateAndJoinTenant(ctx context.Context, personID uuid.UUID, name, subdomain string) (*Grant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("tenant name is required")
	}
	subdomain, err := checkSubdomain(subdomain)
	if err != nil {
		return nil, err
	}

	tenant, membership, err := s.tenants.CreateWithMembership(ctx,
		models.Tenant{Name: name, Subdomain: subdomain, IsActive: true},
		models.Membership{
			PersonID:    personID,
			Role:        models.RoleInternal,
			AccessLevel: []string{models.AccessAdmin},
			IsPrimary:   true,
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.ErrSubdomainTaken
		}
		return nil, err
	}

	s.logger.Info("tenant created",
		zap.String("person_id", personID.String()),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("subdomain", tenant.Subdomain),
	)
	return s.grant(tenant, membership)
}

// SelectTenant switches the person's session to a tenant they already
// belong to.
func (s *Service) SelectTenant(ctx context.Context, personID, tenantID uuid.UUID) (*Grant, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, apperr.ErrTenantNotFound
	}
	if !tenant.IsActive {
		return nil, apperr.ErrTenantInactive
	}

	membership, err := s.memberships.GetForTenant(ctx, personID, tenantID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, apperr.ErrNotMember
	}
	return s.grant(tenant, membership)
}

func (s *Service) grant(tenant *models.Tenant, membership *models.Membership) (*Grant, error) {
	tokens, err := s.issuer.IssuePair(membership.PersonID, &tenant.ID, membership.Role)
	if err != nil {
		return nil, err
	}
	return &Grant{Tenant: tenant, Membership: membership, Tokens: tokens}, nil
}

func checkSubdomain(subdomain string) (string, error) {
	subdomain = models.NormalizeSubdomain(subdomain)
	if !models.ValidSubdomain(subdomain) {
		return "", apperr.Validation("subdomain must be 1-50 characters of a-z, 0-9 and -")
	}
	return subdomain, nil
}
