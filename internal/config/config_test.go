package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8081" {
		t.Fatalf("expected default port 8081, got %q", cfg.Port)
	}
	if cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("expected 1h access TTL, got %s", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 30*24*time.Hour {
		t.Fatalf("expected 30d refresh TTL, got %s", cfg.RefreshTokenTTL)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("expected development secret fallback")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "9000" || cfg.AccessTokenTTL != 15*time.Minute || cfg.RateLimitBurst != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.MigrateOnStart {
		t.Fatal("expected MIGRATE_ON_START=false to disable migrations")
	}
}

func TestTrustedProxiesDefaultToNone(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies, got %v", cfg.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.0.2.7 ")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.7" {
		t.Fatalf("TrustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("REFRESH_TOKEN_TTL", "forever")

	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "REFRESH_TOKEN_TTL") {
		t.Fatalf("expected REFRESH_TOKEN_TTL error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:                      "production",
			JWTSecret:                strings.Repeat("s", 32),
			AccessTokenTTL:           time.Hour,
			RefreshTokenTTL:          30 * 24 * time.Hour,
			PendingRefreshTokenTTL:   7 * 24 * time.Hour,
			RevocationRetention:      31 * 24 * time.Hour,
			RevocationPurgeInterval:  time.Hour,
			StreamRevalidateInterval: 30 * time.Second,
			RateLimitRPS:             5,
			RateLimitBurst:           10,
			OAuth:                    OAuthConfig{Timeout: 10 * time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"short production secret", func(c *Config) { c.JWTSecret = "short" }, true},
		{"access not shorter than refresh", func(c *Config) { c.AccessTokenTTL = c.RefreshTokenTTL }, true},
		{"refresh outlives retention", func(c *Config) { c.RefreshTokenTTL = c.RevocationRetention }, true},
		{"pending refresh outlives retention", func(c *Config) { c.PendingRefreshTokenTTL = 40 * 24 * time.Hour }, true},
		{"zero purge interval", func(c *Config) { c.RevocationPurgeInterval = 0 }, true},
		{"zero stream revalidate interval", func(c *Config) { c.StreamRevalidateInterval = 0 }, true},
		{"zero oauth timeout", func(c *Config) { c.OAuth.Timeout = 0 }, true},
		{"trusted proxies", func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7"} }, false},
		{"bad trusted proxy", func(c *Config) { c.TrustedProxies = []string{"load-balancer"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
