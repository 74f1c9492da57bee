package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/observ"
	"github.com/lalith-99/tenantgate/internal/repository"
	"go.uber.org/zap"
)

// Revoker writes revocation records. inserted is false for tokens that
// were already revoked.
type Revoker interface {
	Revoke(ctx context.Context, rec models.RevokedToken) (inserted bool, err error)
}

// StateStore remembers issued OAuth states so each can be used once.
type StateStore interface {
	Save(ctx context.Context, state string) error
	Consume(ctx context.Context, state string) (bool, error)
}

type ServiceDeps struct {
	Persons     repository.PersonRepository
	Tenants     repository.TenantRepository
	Memberships repository.MembershipRepository
	Issuer      *Issuer
	Validator   *Validator
	Revoker     Revoker
	OAuth       *OAuth
	States      StateStore
	Logger      *zap.Logger
	Metrics     *observ.Metrics
}

// Service authenticates persons and manages their token pairs.
type Service struct {
	persons     repository.PersonRepository
	tenants     repository.TenantRepository
	memberships repository.MembershipRepository
	issuer      *Issuer
	validator   *Validator
	revoker     Revoker
	oauth       *OAuth
	states      StateStore
	logger      *zap.Logger
	metrics     *observ.Metrics
	now         func() time.Time
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		persons:     d.Persons,
		tenants:     d.Tenants,
		memberships: d.Memberships,
		issuer:      d.Issuer,
		validator:   d.Validator,
		revoker:     d.Revoker,
		oauth:       d.OAuth,
		states:      d.States,
		logger:      d.Logger,
		metrics:     d.Metrics,
		now:         time.Now,
	}
}

// Session is the result of any flow that mints tokens. Tenant is nil and
// Role is pending for a person without a selected tenant.
type Session struct {
	Person *models.Person
	Tenant *models.Tenant
	Role   models.Role
	Tokens TokenPair
}

// Authenticate verifies an email and password. Unknown email, inactive
// person, password-less person and wrong password all fail the same way.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.Person, error) {
	person, err := s.persons.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if person == nil {
		burnPasswordCheck(password)
		s.metrics.AuthAttempt("password", "failure")
		return nil, apperr.ErrInvalidCredentials
	}
	if !VerifyPassword(person.PasswordHash, password) || !person.IsActive {
		s.metrics.AuthAttempt("password", "failure")
		return nil, apperr.ErrInvalidCredentials
	}

	s.touchLogin(ctx, person)
	s.metrics.AuthAttempt("password", "success")
	return person, nil
}

// Login authenticates and binds a tenant: the one named by subdomain, or
// the person's default membership, or none.
func (s *Service) Login(ctx context.Context, email, password, subdomain string) (*Session, error) {
	person, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if subdomain != "" {
		tenant, err := s.activeTenantBySubdomain(ctx, subdomain)
		if err != nil {
			return nil, err
		}
		membership, err := s.memberships.GetForTenant(ctx, person.ID, tenant.ID)
		if err != nil {
			return nil, err
		}
		if membership == nil {
			return nil, apperr.ErrNotMember
		}
		return s.issue(person, tenant, membership.Role)
	}

	membership, err := s.memberships.GetDefault(ctx, person.ID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return s.issue(person, nil, models.RolePending)
	}
	tenant, err := s.tenants.GetByID(ctx, membership.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return s.issue(person, nil, models.RolePending)
	}
	return s.issue(person, tenant, membership.Role)
}

type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Phone     string
}

// RegisterPerson creates a person with no tenant and returns a pending
// session.
func (s *Service) RegisterPerson(ctx context.Context, in RegisterInput) (*Session, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	p := models.Person{
		Name:         strings.TrimSpace(in.FirstName + " " + in.LastName),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		IsActive:     true,
	}
	if in.Phone != "" {
		phone := in.Phone
		p.Phone = &phone
	}

	person, err := s.persons.Create(ctx, p)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Info("person registered", zap.String("person_id", person.ID.String()))
	return s.issue(person, nil, models.RolePending)
}

// OAuthURL starts a sign-in flow for the existing tenant named by
// subdomain.
func (s *Service) OAuthURL(ctx context.Context, provider, subdomain, redirectURL string) (authURL, state string, err error) {
	return s.startOAuth(ctx, provider, subdomain, redirectURL, func(ctx context.Context, subdomain string) error {
		_, err := s.activeTenantBySubdomain(ctx, subdomain)
		return err
	})
}

// OAuthRegisterURL starts a sign-up flow that will found a new tenant at
// subdomain, which must still be free.
func (s *Service) OAuthRegisterURL(ctx context.Context, provider, subdomain, redirectURL string) (authURL, state string, err error) {
	return s.startOAuth(ctx, provider, subdomain, redirectURL, s.subdomainFree)
}

func (s *Service) startOAuth(ctx context.Context, provider, subdomain, redirectURL string, check func(context.Context, string) error) (authURL, state string, err error) {
	subdomain = models.NormalizeSubdomain(subdomain)
	if !models.ValidSubdomain(subdomain) {
		return "", "", apperr.Validation("invalid tenant subdomain")
	}
	if _, err := s.oauth.provider(provider); err != nil {
		return "", "", err
	}
	if err := check(ctx, subdomain); err != nil {
		return "", "", err
	}

	state, err = NewState(subdomain)
	if err != nil {
		return "", "", err
	}
	if s.states != nil {
		if err := s.states.Save(ctx, state); err != nil {
			return "", "", err
		}
	}

	authURL, err = s.oauth.AuthURL(provider, state, redirectURL)
	if err != nil {
		return "", "", err
	}
	return authURL, state, nil
}

type OAuthCallback struct {
	Provider        string
	Code            string
	State           string
	TenantSubdomain string
	RedirectURL     string
}

// AuthenticateOAuth completes a sign-in flow and returns a session bound to
// the target tenant. The person must already exist and be an internal
// member of that tenant; customers, vendors and distributors sign in with
// a password.
func (s *Service) AuthenticateOAuth(ctx context.Context, cb OAuthCallback) (*Session, error) {
	subdomain, err := s.consumeState(ctx, cb.State, cb.TenantSubdomain)
	if err != nil {
		return nil, err
	}

	identity, err := s.oauth.Exchange(ctx, cb.Provider, cb.Code, cb.RedirectURL)
	if err != nil {
		s.metrics.AuthAttempt("oauth", "provider_error")
		return nil, err
	}

	person, err := s.personForIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if person == nil || !person.IsActive {
		s.metrics.AuthAttempt("oauth", "failure")
		return nil, apperr.ErrInvalidCredentials
	}

	tenant, err := s.activeTenantBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	internal, err := s.memberships.HasRole(ctx, person.ID, tenant.ID, models.RoleInternal)
	if err != nil {
		return nil, err
	}
	if !internal {
		s.metrics.AuthAttempt("oauth", "failure")
		return nil, apperr.ErrNotMember
	}

	s.touchLogin(ctx, person)
	s.metrics.AuthAttempt("oauth", "success")
	return s.issue(person, tenant, models.RoleInternal)
}

// OAuthRegistration completes a sign-up flow started by OAuthRegisterURL.
type OAuthRegistration struct {
	OAuthCallback
	TenantName string
}

// RegisterOAuth creates a person from the provider identity together with
// a new tenant, and makes the person its primary internal admin. All three
// rows are written in one transaction. An identity whose email or subject
// already belongs to a person fails with EmailTaken; that person signs in
// with AuthenticateOAuth instead.
func (s *Service) RegisterOAuth(ctx context.Context, reg OAuthRegistration) (*Session, error) {
	name := strings.TrimSpace(reg.TenantName)
	if name == "" {
		return nil, apperr.Validation("tenant name is required")
	}
	subdomain, err := s.consumeState(ctx, reg.State, reg.TenantSubdomain)
	if err != nil {
		return nil, err
	}
	// Checked before the code exchange so a taken subdomain does not burn
	// the authorization code. The insert below still catches races.
	if err := s.subdomainFree(ctx, subdomain); err != nil {
		return nil, err
	}

	identity, err := s.oauth.Exchange(ctx, reg.Provider, reg.Code, reg.RedirectURL)
	if err != nil {
		s.metrics.AuthAttempt("oauth", "provider_error")
		return nil, err
	}

	subject := identity.Subject
	f, err := s.tenants.CreateWithFounder(ctx,
		models.Person{
			ExternalSubject: &subject,
			Name:            identity.Name,
			Email:           strings.ToLower(strings.TrimSpace(identity.Email)),
			IsActive:        true,
		},
		models.Tenant{Name: name, Subdomain: subdomain, IsActive: true},
		models.Membership{Role: models.RoleInternal, AccessLevel: []string{models.AccessAdmin}, IsPrimary: true},
	)
	switch {
	case errors.Is(err, repository.ErrPersonExists):
		s.metrics.AuthAttempt("oauth", "failure")
		return nil, apperr.ErrEmailTaken
	case errors.Is(err, repository.ErrDuplicate):
		return nil, apperr.ErrSubdomainTaken
	case err != nil:
		return nil, err
	}

	s.logger.Info("person registered through oauth",
		zap.String("person_id", f.Person.ID.String()),
		zap.String("tenant_id", f.Tenant.ID.String()),
		zap.String("provider", reg.Provider),
	)
	s.touchLogin(ctx, f.Person)
	s.metrics.AuthAttempt("oauth", "success")
	return s.issue(f.Person, f.Tenant, f.Membership.Role)
}

// consumeState checks that state was issued for subdomain and, when a
// state store is configured, that it has not been used. It returns the
// normalized subdomain.
func (s *Service) consumeState(ctx context.Context, state, subdomain string) (string, error) {
	stateSubdomain, err := ParseState(state)
	if err != nil {
		return "", err
	}
	subdomain = models.NormalizeSubdomain(subdomain)
	if stateSubdomain != subdomain {
		return "", apperr.Validation("oauth state does not match tenant")
	}
	if s.states != nil {
		ok, err := s.states.Consume(ctx, state)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperr.Validation("unknown or reused oauth state")
		}
	}
	return subdomain, nil
}

func (s *Service) subdomainFree(ctx context.Context, subdomain string) error {
	tenant, err := s.tenants.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return err
	}
	if tenant != nil {
		return apperr.ErrSubdomainTaken
	}
	return nil
}

func (s *Service) personForIdentity(ctx context.Context, id Identity) (*models.Person, error) {
	person, err := s.persons.GetByExternalSubject(ctx, id.Subject)
	if err != nil || person != nil {
		return person, err
	}

	person, err = s.persons.GetByEmail(ctx, id.Email)
	if err != nil || person == nil {
		return person, err
	}
	if person.ExternalSubject == nil {
		if err := s.persons.LinkExternalSubject(ctx, person.ID, id.Subject); err != nil {
			return nil, err
		}
	}
	return person, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new pair is issued. A token that loses the revocation race, or whose
// grant no longer holds, fails as revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.validator.Validate(ctx, refreshToken, models.TokenRefresh)
	if err != nil {
		return nil, err
	}

	person, err := s.persons.GetByID(ctx, claims.PersonID)
	if err != nil {
		return nil, err
	}
	if person == nil || !person.IsActive {
		return nil, apperr.ErrTokenRevoked
	}

	var tenant *models.Tenant
	if claims.HasTenant() {
		tenant, err = s.tenants.GetByID(ctx, *claims.TenantID)
		if err != nil {
			return nil, err
		}
		if tenant == nil || !tenant.IsActive {
			return nil, apperr.ErrTokenRevoked
		}
		ok, err := s.memberships.HasRole(ctx, person.ID, tenant.ID, claims.Role)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrTokenRevoked
		}
	}

	inserted, err := s.revoker.Revoke(ctx, revocationRecord(refreshToken, claims))
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !inserted {
		return nil, apperr.ErrTokenRevoked
	}

	return s.issue(person, tenant, claims.Role)
}

// Logout revokes the caller's access token and the given refresh token.
// Revoking an already revoked token is a no-op. The refresh token must
// belong to the same person and tenant as the access token.
func (s *Service) Logout(ctx context.Context, access *Claims, accessToken, refreshToken string) error {
	refresh, err := s.issuer.Parse(refreshToken)
	expired := errors.Is(err, apperr.ErrTokenExpired)
	switch {
	case expired:
		refresh = nil
	case err != nil:
		return err
	case refresh.TokenType != models.TokenRefresh:
		return apperr.ErrTokenWrongType
	case refresh.PersonID != access.PersonID || !sameTenant(refresh.TenantID, access.TenantID):
		return apperr.Validation("refresh token does not belong to this session")
	}

	if _, err := s.revoker.Revoke(ctx, revocationRecord(accessToken, access)); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refresh != nil {
		if _, err := s.revoker.Revoke(ctx, revocationRecord(refreshToken, refresh)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}

	s.logger.Info("person logged out", zap.String("person_id", access.PersonID.String()))
	return nil
}

// Me returns the person behind a token.
func (s *Service) Me(ctx context.Context, personID uuid.UUID) (*models.Person, error) {
	person, err := s.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil || !person.IsActive {
		return nil, apperr.ErrTokenRevoked
	}
	return person, nil
}

func (s *Service) activeTenantBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	subdomain = models.NormalizeSubdomain(subdomain)
	if !models.ValidSubdomain(subdomain) {
		return nil, apperr.Validation("invalid tenant subdomain")
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
	return tenant, nil
}

func (s *Service) touchLogin(ctx context.Context, person *models.Person) {
	now := s.now()
	if err := s.persons.TouchLastLogin(ctx, person.ID, now); err != nil {
		s.logger.Warn("update last login", zap.Error(err), zap.String("person_id", person.ID.String()))
		return
	}
	person.LastLogin = &now
}

func (s *Service) issue(person *models.Person, tenant *models.Tenant, role models.Role) (*Session, error) {
	var tenantID *uuid.UUID
	if tenant != nil {
		tenantID = &tenant.ID
	} else {
		role = models.RolePending
	}
	tokens, err := s.issuer.IssuePair(person.ID, tenantID, role)
	if err != nil {
		return nil, err
	}
	return &Session{Person: person, Tenant: tenant, Role: role, Tokens: tokens}, nil
}

func revocationRecord(token string, c *Claims) models.RevokedToken {
	rec := models.RevokedToken{
		TokenHash: HashToken(token),
		TokenType: c.TokenType,
		PersonID:  c.PersonID,
		TenantID:  c.TenantID,
	}
	if c.ExpiresAt != nil {
		rec.ExpiresAt = c.ExpiresAt.Time
	}
	return rec
}

func sameTenant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
