// Package dbtest provisions throwaway Postgres databases for integration
// tests. Tests are skipped unless TEST_DATABASE_URL points at a server the
// test user may create databases and roles on.
package dbtest

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tenantgate/internal/db"
	"go.uber.org/zap"
)

// AppRole is the unprivileged role every test connection switches to, so
// row-level security applies exactly as it does in production.
const AppRole = "tenantgate_test_app"

type Options struct {
	MaxConns int32
}

// New creates a fresh database owned by AppRole, applies the migrations
// and returns a DB whose connections all run as AppRole.
func New(t *testing.T, opts ...Options) *db.DB {
	t.Helper()

	adminDSN := os.Getenv("TEST_DATABASE_URL")
	if adminDSN == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	_, err = admin.Exec(ctx, `
		DO $$
		BEGIN
			CREATE ROLE `+AppRole+` NOLOGIN NOSUPERUSER NOBYPASSRLS;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$`)
	if err != nil {
		t.Fatalf("create app role: %v", err)
	}

	name := "tenantgate_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	ident := pgx.Identifier{name}.Sanitize()
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+ident+" OWNER "+AppRole); err != nil {
		t.Fatalf("create database: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(withDatabase(t, adminDSN, name))
	if err != nil {
		t.Fatalf("parse test dsn: %v", err)
	}
	if len(opts) > 0 && opts[0].MaxConns > 0 {
		cfg.MaxConns = opts[0].MaxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET ROLE "+AppRole)
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}

	database := db.Wrap(pool, zap.NewNop(), nil)
	if err := database.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)")
		_ = admin.Close(ctx)
	})

	return database
}

func withDatabase(t *testing.T, dsn, name string) string {
	t.Helper()
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	u.Path = "/" + name
	return u.String()
}
