package api

import (
	"net/http"
	"testing"

	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/models"
)

func TestRegisterThenCreateTenantUnlocksScopedRoutes(t *testing.T) {
	s := newTestServer(t)

	pending := s.register(t, "alice@x.com")
	if pending.Tenant != nil || pending.User.Role != models.RolePending {
		t.Fatalf("registration must not bind a tenant: %+v", pending)
	}
	if pending.TokenType != "Bearer" || pending.ExpiresIn <= 0 || pending.RefreshExpiresIn <= pending.ExpiresIn {
		t.Fatalf("token metadata = %+v", pending)
	}

	w := s.do(t, request{method: http.MethodGet, path: "/v1/machines", token: pending.AccessToken, tenant: "00000000-0000-0000-0000-000000000001"})
	expectError(t, w, http.StatusForbidden, apperr.CodeNoTenantSelected)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/create-tenant", token: pending.AccessToken, body: map[string]string{
		"tenant_name": "Acme", "tenant_subdomain": "acme",
	}})
	expectStatus(t, w, http.StatusCreated)
	bound := decode[tokenResponse](t, w)
	if bound.Tenant == nil || bound.Tenant.Subdomain != "acme" || bound.User.Role != models.RoleInternal {
		t.Fatalf("create-tenant response = %+v", bound)
	}

	w = s.do(t, request{method: http.MethodGet, path: "/v1/machines", token: bound.AccessToken, tenant: bound.Tenant.ID.String()})
	expectStatus(t, w, http.StatusOK)
}

func TestTenantHeaderMismatchIsRejected(t *testing.T) {
	s := newTestServer(t)
	a := s.createTenant(t, "a@x.com", "tenant-a")
	b := s.createTenant(t, "b@x.com", "tenant-b")

	w := s.do(t, request{method: http.MethodGet, path: "/v1/machines", token: a.AccessToken, tenant: b.Tenant.ID.String()})
	expectError(t, w, http.StatusForbidden, apperr.CodeTenantMismatch)

	w = s.do(t, request{method: http.MethodGet, path: "/v1/machines", token: a.AccessToken})
	expectError(t, w, http.StatusBadRequest, apperr.CodeMissingTenantHeader)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	s := newTestServer(t)
	sess := s.createTenant(t, "carol@x.com", "acme")

	w := s.do(t, request{method: http.MethodPost, path: "/auth/logout", token: sess.AccessToken, body: map[string]string{
		"refresh_token": sess.RefreshToken,
	}})
	expectError(t, w, http.StatusBadRequest, apperr.CodeMissingTenantHeader)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/logout", token: sess.AccessToken, tenant: sess.Tenant.ID.String(), body: map[string]string{
		"refresh_token": sess.RefreshToken,
	}})
	expectStatus(t, w, http.StatusNoContent)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refresh_token": sess.RefreshToken}})
	expectError(t, w, http.StatusUnauthorized, apperr.CodeTokenRevoked)

	w = s.do(t, request{method: http.MethodGet, path: "/v1/me", token: sess.AccessToken})
	expectError(t, w, http.StatusUnauthorized, apperr.CodeTokenRevoked)
}

func TestPendingLogoutNeedsNoTenantHeader(t *testing.T) {
	s := newTestServer(t)
	pending := s.register(t, "dan@x.com")

	w := s.do(t, request{method: http.MethodPost, path: "/auth/logout", token: pending.AccessToken, body: map[string]string{
		"refresh_token": pending.RefreshToken,
	}})
	expectStatus(t, w, http.StatusNoContent)
}

func TestRefreshRotatesTokens(t *testing.T) {
	s := newTestServer(t)
	sess := s.createTenant(t, "erin@x.com", "acme")

	w := s.do(t, request{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refresh_token": sess.RefreshToken}})
	expectStatus(t, w, http.StatusOK)
	next := decode[tokenResponse](t, w)
	if next.Tenant == nil || next.Tenant.ID != sess.Tenant.ID {
		t.Fatalf("refresh lost the tenant: %+v", next.Tenant)
	}

	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refresh_token": sess.RefreshToken}})
	expectError(t, w, http.StatusUnauthorized, apperr.CodeTokenRevoked)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refresh_token": next.AccessToken}})
	expectError(t, w, http.StatusUnauthorized, apperr.CodeTokenWrongType)
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)
	s.createTenant(t, "fay@x.com", "acme")

	w := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": "FAY@x.com", "password": "correct-horse",
	}})
	expectStatus(t, w, http.StatusOK)
	sess := decode[tokenResponse](t, w)
	if sess.Tenant == nil || sess.Tenant.Subdomain != "acme" {
		t.Fatalf("login must bind the primary tenant: %+v", sess.Tenant)
	}
	if sess.User.Email != "fay@x.com" || sess.User.FirstName != "Test" || sess.User.LastName != "Person" {
		t.Fatalf("user = %+v", sess.User)
	}

	w = s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": "fay@x.com", "password": "wrong-horse",
	}})
	expectError(t, w, http.StatusUnauthorized, apperr.CodeInvalidCredentials)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": "fay@x.com", "password": "correct-horse", "tenant_subdomain": "Not_Valid",
	}})
	expectError(t, w, http.StatusBadRequest, apperr.CodeInvalidRequest)

	w = s.do(t, request{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": "not-an-email"}})
	expectError(t, w, http.StatusBadRequest, apperr.CodeInvalidRequest)
}

func TestJoinAndSelectTenant(t *testing.T) {
	s := newTestServer(t)
	owner := s.createTenant(t, "owner@x.com", "acme")
	pending := s.register(t, "gus@x.com")

	join := func(subdomain string) *tokenResponse {
		w := s.do(t, request{method: http.MethodPost, path: "/auth/join-tenant", token: pending.AccessToken, body: map[string]string{
			"tenant_subdomain": subdomain,
		}})
		if w.Code != http.StatusOK {
			expectError(t, w, http.StatusConflict, apperr.CodeAlreadyMember)
			return nil
		}
		resp := decode[tokenResponse](t, w)
		return &resp
	}

	joined := join("ACME")
	if joined == nil || joined.Tenant.ID != owner.Tenant.ID {
		t.Fatalf("join = %+v", joined)
	}
	if join("acme") != nil {
		t.Fatal("second join must fail")
	}

	w := s.do(t, request{method: http.MethodPost, path: "/auth/join-tenant", token: pending.AccessToken, body: map[string]string{
		"tenant_subdomain": "nowhere",
	}})
	expectError(t, w, http.StatusNotFound, apperr.CodeTenantNotFound)

	w = s.do(t, request{method: http.MethodGet, path: "/auth/tenants", token: joined.AccessToken})
	expectStatus(t, w, http.StatusOK)
	list := decode[struct {
		Tenants []tenantResponse `json:"tenants"`
	}](t, w)
	if len(list.Tenants) != 1 || list.Tenants[0].ID != owner.Tenant.ID {
		t.Fatalf("tenants = %+v", list.Tenants)
	}

	w = s.do(t, request{method: http.MethodPost, path: "/auth/select-tenant", token: pending.AccessToken, body: map[string]string{
		"tenant_id": owner.Tenant.ID.String(),
	}})
	expectStatus(t, w, http.StatusOK)

	other := s.createTenant(t, "other@x.com", "other")
	w = s.do(t, request{method: http.MethodPost, path: "/auth/select-tenant", token: pending.AccessToken, body: map[string]string{
		"tenant_id": other.Tenant.ID.String(),
	}})
	expectError(t, w, http.StatusForbidden, apperr.CodeNotMember)
}

func TestCreateTenantSubdomainTaken(t *testing.T) {
	s := newTestServer(t)
	s.createTenant(t, "h@x.com", "acme")
	pending := s.register(t, "i@x.com")

	w := s.do(t, request{method: http.MethodPost, path: "/auth/create-tenant", token: pending.AccessToken, body: map[string]string{
		"tenant_name": "Acme Two", "tenant_subdomain": "ACME",
	}})
	expectError(t, w, http.StatusConflict, apperr.CodeSubdomainTaken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "j@x.com")

	w := s.do(t, request{method: http.MethodPost, path: "/auth/person-register", body: map[string]string{
		"email": "J@x.com", "first_name": "J", "last_name": "K", "password": "correct-horse",
	}})
	expectError(t, w, http.StatusConflict, apperr.CodeEmailTaken)
}

func TestMeAndAssetTypesNeedNoTenant(t *testing.T) {
	s := newTestServer(t)
	pending := s.register(t, "k@x.com")

	w := s.do(t, request{method: http.MethodGet, path: "/v1/me", token: pending.AccessToken})
	expectStatus(t, w, http.StatusOK)
	me := decode[struct {
		Person models.Person `json:"person"`
		Role   models.Role   `json:"role"`
	}](t, w)
	if me.Person.Email != "k@x.com" || me.Role != models.RolePending {
		t.Fatalf("me = %+v", me)
	}

	w = s.do(t, request{method: http.MethodGet, path: "/v1/asset-types", token: pending.AccessToken})
	expectStatus(t, w, http.StatusOK)
	if types := decode[[]models.AssetType](t, w); len(types) == 0 {
		t.Fatal("expected seeded asset types")
	}

	w = s.do(t, request{method: http.MethodGet, path: "/v1/me"})
	expectError(t, w, http.StatusUnauthorized, apperr.CodeTokenMalformed)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: http.MethodGet, path: "/v1/health"})
	expectStatus(t, w, http.StatusOK)
	health := decode[map[string]string](t, w)
	if health["status"] != "ok" || health["database"] != "ok" || health["redis"] != "disabled" {
		t.Fatalf("health = %v", health)
	}

	w = s.do(t, request{method: http.MethodGet, path: "/metrics"})
	if w.Code == http.StatusUnauthorized {
		t.Fatal("metrics must not require a token")
	}
}
