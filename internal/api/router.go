package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/observ"
	"github.com/lalith-99/tenantgate/internal/repository"
	"github.com/lalith-99/tenantgate/internal/stream"
	"github.com/lalith-99/tenantgate/internal/tenancy"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Logger  *zap.Logger
	Metrics *observ.Metrics

	Auth      *auth.Service
	Validator *auth.Validator
	Tenancy   *tenancy.Service
	Resolver  *tenancy.Resolver

	// RateLimiter guards the credential endpoints; nil disables it.
	RateLimiter *middleware.RateLimiter
	// TrustedProxies may set X-Forwarded-For. With none, the client IP
	// the limiter keys on is always the socket peer.
	TrustedProxies   []string
	OAuthRedirectURL string

	AssetTypes    repository.AssetTypeRepository
	Machines      repository.MachineRepository
	MachineEvents repository.MachineEventRepository
	Broker        stream.Broker
	// StreamRevalidate is how often an open stream re-checks its token;
	// zero uses the default.
	StreamRevalidate time.Duration

	Database Pinger
	Redis    Pinger
}

// NewRouter wires every route. main and the handler tests share it.
func NewRouter(d RouterDeps) *gin.Engine {
	registerValidators()

	r := gin.New()
	// gin trusts every proxy by default, which would let any client pick
	// its own rate-limit bucket. Addresses are checked at config load.
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		d.Logger.Error("invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger, d.Metrics))

	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if d.RateLimiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{d.RateLimiter.Middleware(), h}
	}

	authH := NewAuthHandler(d.Auth, d.Tenancy, d.Logger)
	oauthH := NewOAuthHandler(d.Auth, d.OAuthRedirectURL, d.Logger)
	personH := NewPersonHandler(d.Auth, d.Logger)
	assetTypeH := NewAssetTypeHandler(d.AssetTypes, d.Logger)
	machineH := NewMachineHandler(d.Machines, d.Broker, d.Logger)
	eventH := NewMachineEventHandler(d.MachineEvents, d.Logger)
	streamH := NewStreamHandler(d.Broker, d.Validator, d.StreamRevalidate, d.Logger)
	healthH := NewHealthHandler(d.Database, d.Redis, d.Logger)

	// Public endpoints. Health and metrics must stay reachable without a
	// token for load balancers and scrapers.
	r.GET("/v1/health", healthH.Health)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	authenticate := middleware.Authenticate(d.Validator)
	requireTenant := middleware.RequireTenant(d.Resolver)

	a := r.Group("/auth")
	a.POST("/login", limited(authH.Login)...)
	a.POST("/person-register", limited(authH.PersonRegister)...)
	a.POST("/refresh", authH.Refresh)
	a.POST("/oauth/url", oauthH.URL)
	a.POST("/oauth/callback", limited(oauthH.Callback)...)
	a.POST("/oauth/register", limited(oauthH.Register)...)

	a.POST("/join-tenant", authenticate, authH.JoinTenant)
	a.POST("/create-tenant", authenticate, authH.CreateTenant)
	a.POST("/select-tenant", authenticate, authH.SelectTenant)
	a.GET("/tenants", authenticate, authH.ListTenants)
	a.POST("/logout", authenticate, middleware.RequireTenantIfBound(d.Resolver), authH.Logout)

	v1 := r.Group("/v1", authenticate)
	v1.GET("/me", personH.Me)
	v1.GET("/asset-types", assetTypeH.List)

	machines := v1.Group("/machines", requireTenant)
	machines.POST("", machineH.Create)
	machines.GET("", machineH.List)
	machines.GET("/stream", streamH.Machines)
	machines.GET("/:id", machineH.Get)
	machines.DELETE("/:id", machineH.Delete)
	machines.POST("/:id/heartbeat", machineH.Heartbeat)
	machines.GET("/:id/events", eventH.List)

	return r
}
