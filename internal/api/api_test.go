package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/repository/memory"
	"github.com/lalith-99/tenantgate/internal/revocation"
	"github.com/lalith-99/tenantgate/internal/stream"
	"github.com/lalith-99/tenantgate/internal/tenancy"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	mem    *memory.Store
	broker *stream.Hub
	router *gin.Engine

	// identity is what the test identity provider reports for the code
	// "good-code".
	identity auth.Identity
}

const testProvider = "test-idp"

// identityProvider serves the token and userinfo endpoints of an OAuth
// provider whose user is s.identity.
func (s *testServer) identityProvider(t *testing.T) *auth.Provider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"upstream","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sub": s.identity.Subject, "email": s.identity.Email, "name": s.identity.Name,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/authorize",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return auth.NewUserInfoProvider(testProvider, cfg, srv.URL+"/userinfo", func(body []byte) (auth.Identity, error) {
		var u struct {
			Sub, Email, Name string
		}
		if err := json.Unmarshal(body, &u); err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{Subject: u.Sub, Email: u.Email, Name: u.Name}, nil
	})
}

// newTestServer wires the router over in-memory stores. opts adjust the
// dependencies before the router is built.
func newTestServer(t *testing.T, opts ...func(*RouterDeps)) *testServer {
	t.Helper()
	s := &testServer{mem: memory.New(), broker: stream.NewHub()}
	mem := s.mem
	logger := zap.NewNop()
	issuer := auth.NewIssuer("test-secret-at-least-32-bytes-long!!", "tenantgate")
	revoker := revocation.New(mem.Revocations, nil, logger, nil)
	validator := auth.NewValidator(issuer, revoker)

	authSvc := auth.NewService(auth.ServiceDeps{
		Persons:     mem.Persons,
		Tenants:     mem.Tenants,
		Memberships: mem.Memberships,
		Issuer:      issuer,
		Validator:   validator,
		Revoker:     revoker,
		OAuth:       auth.NewOAuth(5*time.Second, s.identityProvider(t)),
		Logger:      logger,
	})

	deps := RouterDeps{
		Logger:        logger,
		Auth:          authSvc,
		Validator:     validator,
		Tenancy:       tenancy.NewService(mem.Tenants, mem.Memberships, issuer, logger),
		Resolver:      tenancy.NewResolver(mem.Tenants, nil),
		RateLimiter:   middleware.NewRateLimiter(1000, 1000),
		AssetTypes:    mem.AssetTypes,
		Machines:      mem.Machines,
		MachineEvents: mem.MachineEvents,
		Broker:        s.broker,
		Database:      PingFunc(func(context.Context) error { return nil }),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	s.router = NewRouter(deps)
	return s
}

type request struct {
	method string
	path   string
	token  string
	tenant string
	body   any
	header map[string]string
}

func (s *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if r.body != nil {
		if err := json.NewEncoder(&body).Encode(r.body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(r.method, r.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.tenant != "" {
		req.Header.Set(tenancy.HeaderTenantID, r.tenant)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, want, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code apperr.Code) {
	t.Helper()
	expectStatus(t, w, status)
	body := decode[apperr.Body](t, w)
	if body.Code != code {
		t.Fatalf("code = %s, want %s", body.Code, code)
	}
	if body.Error == "" || body.Category == "" {
		t.Fatalf("incomplete error body %+v", body)
	}
}

// register creates a person and returns their pending token response.
func (s *testServer) register(t *testing.T, email string) tokenResponse {
	t.Helper()
	w := s.do(t, request{method: http.MethodPost, path: "/auth/person-register", body: map[string]string{
		"email": email, "first_name": "Test", "last_name": "Person", "password": "correct-horse",
	}})
	expectStatus(t, w, http.StatusCreated)
	return decode[tokenResponse](t, w)
}

// createTenant registers a person and makes them the owner of a new tenant.
func (s *testServer) createTenant(t *testing.T, email, subdomain string) tokenResponse {
	t.Helper()
	pending := s.register(t, email)
	w := s.do(t, request{method: http.MethodPost, path: "/auth/create-tenant", token: pending.AccessToken, body: map[string]string{
		"tenant_name": subdomain, "tenant_subdomain": subdomain,
	}})
	expectStatus(t, w, http.StatusCreated)
	return decode[tokenResponse](t, w)
}
