package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/api"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/cache"
	"github.com/lalith-99/tenantgate/internal/config"
	"github.com/lalith-99/tenantgate/internal/db"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/observ"
	"github.com/lalith-99/tenantgate/internal/repository/postgres"
	"github.com/lalith-99/tenantgate/internal/revocation"
	"github.com/lalith-99/tenantgate/internal/stream"
	"github.com/lalith-99/tenantgate/internal/tenancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	oauthStateTTL   = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger and metrics
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observ.NewMetrics(reg)

	// The root context is cancelled on SIGINT/SIGTERM; background workers
	// and the HTTP server stop with it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Connect to Postgres and apply migrations
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger, metrics)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// ---------------------------------------------------------------
	// 4. Connect to Redis (optional)
	//
	// Without Redis, revocation lookups go to Postgres, OAuth states
	// are not checked for reuse and the machine stream only reaches
	// subscribers on this instance.
	// ---------------------------------------------------------------
	var (
		redisClient *redis.Client
		revokedSet  revocation.ExpiringSet
		states      auth.StateStore
		broker      stream.Broker = stream.NewHub()
		redisPinger api.Pinger
	)
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()

		revokedSet = cache.NewRevokedSet(redisClient)
		states = cache.NewStateStore(redisClient, oauthStateTTL)
		broker = stream.NewRedisBroker(redisClient, logger)
		redisPinger = api.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	// ---------------------------------------------------------------
	// 5. Create repositories
	//
	// Identity tables use the pool directly. Tenant-scoped stores go
	// through the DB wrapper so every call runs in a tenant-bound
	// transaction.
	// ---------------------------------------------------------------
	pool := database.Pool()
	personRepo := postgres.NewPersonStore(pool)
	tenantRepo := postgres.NewTenantStore(pool)
	membershipRepo := postgres.NewMembershipStore(pool)
	revocationRepo := postgres.NewRevocationStore(pool)
	assetTypeRepo := postgres.NewAssetTypeStore(pool)
	machineRepo := postgres.NewMachineStore(database)
	machineEventRepo := postgres.NewMachineEventStore(database)

	// ---------------------------------------------------------------
	// 6. Revocation store: warm the Redis set, then purge in background
	// ---------------------------------------------------------------
	revocations := revocation.New(revocationRepo, revokedSet, logger, metrics,
		revocation.WithRetention(cfg.RevocationRetention),
	)
	if err := revocations.Warm(ctx); err != nil {
		// Lookups stay correct while the set is cold; they just hit
		// Postgres.
		logger.Warn("warm revoked token set", zap.Error(err))
	}
	go revocations.RunPurger(ctx, cfg.RevocationPurgeInterval)

	// ---------------------------------------------------------------
	// 7. Create services
	// ---------------------------------------------------------------
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer,
		auth.WithTTLs(cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.PendingRefreshTokenTTL),
	)
	validator := auth.NewValidator(issuer, revocations)
	oauth := auth.NewOAuth(cfg.OAuth.Timeout, oauthProviders(cfg.OAuth)...)

	authSvc := auth.NewService(auth.ServiceDeps{
		Persons:     personRepo,
		Tenants:     tenantRepo,
		Memberships: membershipRepo,
		Issuer:      issuer,
		Validator:   validator,
		Revoker:     revocations,
		OAuth:       oauth,
		States:      states,
		Logger:      logger,
		Metrics:     metrics,
	})
	tenancySvc := tenancy.NewService(tenantRepo, membershipRepo, issuer, logger)

	// ---------------------------------------------------------------
	// 8. Set up HTTP server
	// ---------------------------------------------------------------
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterDeps{
		Logger:           logger,
		Metrics:          metrics,
		Auth:             authSvc,
		Validator:        validator,
		Tenancy:          tenancySvc,
		Resolver:         tenancy.NewResolver(tenantRepo, metrics),
		RateLimiter:      middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		TrustedProxies:   cfg.TrustedProxies,
		OAuthRedirectURL: cfg.OAuth.RedirectURL,
		AssetTypes:       assetTypeRepo,
		Machines:         machineRepo,
		MachineEvents:    machineEventRepo,
		Broker:           broker,
		StreamRevalidate: cfg.StreamRevalidateInterval,
		Database:         api.PingFunc(database.Health),
		Redis:            redisPinger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting tenantgate",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("redis", redisClient != nil),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ---------------------------------------------------------------
	// 9. Wait for a signal, then drain in-flight requests
	// ---------------------------------------------------------------
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// oauthProviders returns the providers that have credentials configured.
func oauthProviders(cfg config.OAuthConfig) []*auth.Provider {
	var providers []*auth.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, auth.GoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.RedirectURL))
	}
	if cfg.MicrosoftClientID != "" {
		providers = append(providers, auth.MicrosoftProvider(cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenant, cfg.RedirectURL))
	}
	if cfg.AppleClientID != "" {
		providers = append(providers, auth.AppleProvider(cfg.AppleClientID, cfg.AppleClientSecret, cfg.RedirectURL))
	}
	return providers
}
