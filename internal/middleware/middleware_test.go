package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository/memory"
	"github.com/lalith-99/tenantgate/internal/revocation"
	"github.com/lalith-99/tenantgate/internal/tenancy"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	mem     *memory.Store
	issuer  *auth.Issuer
	revoker *revocation.Store
	router  *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := memory.New()
	issuer := auth.NewIssuer("test-secret-at-least-32-bytes-long!!", "tenantgate")
	revoker := revocation.New(mem.Revocations, nil, zap.NewNop(), nil)
	validator := auth.NewValidator(issuer, revoker)
	resolver := tenancy.NewResolver(mem.Tenants, nil)

	r := gin.New()
	r.Use(RequestLogger(zap.NewNop(), nil))
	authed := r.Group("/", Authenticate(validator))
	authed.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"person_id": GetPersonID(c)})
	})
	authed.GET("/scoped", RequireTenant(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": GetTenantID(c)})
	})
	authed.GET("/optional", RequireTenantIfBound(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": GetTenantID(c)})
	})

	return &harness{mem: mem, issuer: issuer, revoker: revoker, router: r}
}

func (h *harness) do(method, path, token, tenantHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenantHeader != "" {
		req.Header.Set(tenancy.HeaderTenantID, tenantHeader)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperr.Body {
	t.Helper()
	var body apperr.Body
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	personID := uuid.New()
	pair, err := h.issuer.IssuePair(personID, nil, models.RolePending)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("missing header", func(t *testing.T) {
		w := h.do(http.MethodGet, "/whoami", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
		if body := decodeError(t, w); body.Category != apperr.CategoryToken {
			t.Fatalf("body = %+v", body)
		}
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		w := h.do(http.MethodGet, "/whoami", pair.RefreshToken, "")
		if body := decodeError(t, w); body.Code != apperr.CodeTokenWrongType {
			t.Fatalf("body = %+v", body)
		}
	})

	t.Run("valid", func(t *testing.T) {
		w := h.do(http.MethodGet, "/whoami", pair.AccessToken, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d body = %s", w.Code, w.Body)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		claims, _ := h.issuer.Parse(pair.AccessToken)
		_, err := h.revoker.Revoke(context.Background(), models.RevokedToken{
			TokenHash: auth.HashToken(pair.AccessToken),
			TokenType: models.TokenAccess,
			PersonID:  personID,
			ExpiresAt: claims.ExpiresAt.Time,
		})
		if err != nil {
			t.Fatal(err)
		}
		w := h.do(http.MethodGet, "/whoami", pair.AccessToken, "")
		if body := decodeError(t, w); body.Code != apperr.CodeTokenRevoked {
			t.Fatalf("body = %+v", body)
		}
	})
}

func TestRequireTenant(t *testing.T) {
	h := newHarness(t)
	acme := h.mem.PutTenant(models.Tenant{Name: "Acme", Subdomain: "acme", IsActive: true})
	globex := h.mem.PutTenant(models.Tenant{Name: "Globex", Subdomain: "globex", IsActive: true})

	bound, _ := h.issuer.IssuePair(uuid.New(), &acme.ID, models.RoleInternal)
	pending, _ := h.issuer.IssuePair(uuid.New(), nil, models.RolePending)

	tests := []struct {
		name   string
		path   string
		token  string
		header string
		status int
		code   apperr.Code
	}{
		{"matching header", "/scoped", bound.AccessToken, acme.ID.String(), http.StatusOK, ""},
		{"missing header", "/scoped", bound.AccessToken, "", http.StatusBadRequest, apperr.CodeMissingTenantHeader},
		{"other tenant", "/scoped", bound.AccessToken, globex.ID.String(), http.StatusForbidden, apperr.CodeTenantMismatch},
		{"pending token", "/scoped", pending.AccessToken, acme.ID.String(), http.StatusForbidden, apperr.CodeNoTenantSelected},
		{"pending token on optional route", "/optional", pending.AccessToken, "", http.StatusOK, ""},
		{"bound token on optional route", "/optional", bound.AccessToken, "", http.StatusBadRequest, apperr.CodeMissingTenantHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodGet, tt.path, tt.token, tt.header)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body)
			}
			if tt.code != "" {
				if body := decodeError(t, w); body.Code != tt.code {
					t.Fatalf("code = %s, want %s", body.Code, tt.code)
				}
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := hit("10.0.0.1"); code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d", i, code)
		}
	}
	if code := hit("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("over burst: status = %d", code)
	}
	if code := hit("10.0.0.2"); code != http.StatusNoContent {
		t.Fatalf("other client must have its own bucket: %d", code)
	}

	now = now.Add(time.Second)
	if code := hit("10.0.0.1"); code != http.StatusNoContent {
		t.Fatalf("after refill: status = %d", code)
	}
}
