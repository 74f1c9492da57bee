package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/db"
	"github.com/lalith-99/tenantgate/internal/db/dbtest"
	"go.uber.org/zap"
)

func currentTenant(ctx context.Context, tx pgx.Tx) (string, error) {
	var v *string
	err := tx.QueryRow(ctx, `SELECT current_setting('`+db.TenantSetting+`', true)`).Scan(&v)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func TestWithTenantRejectsNil(t *testing.T) {
	database := db.Wrap(nil, zap.NewNop(), nil)

	err := database.WithTenant(context.Background(), uuid.Nil, func(pgx.Tx) error {
		t.Fatal("fn must not run without a tenant")
		return nil
	})
	if !errors.Is(err, apperr.ErrNoTenantSelected) {
		t.Fatalf("expected ErrNoTenantSelected, got %v", err)
	}
}

func TestWithTenantBindsOnlyForTransaction(t *testing.T) {
	database := dbtest.New(t, dbtest.Options{MaxConns: 1})
	ctx := context.Background()
	tenantID := uuid.New()

	err := database.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		got, err := currentTenant(ctx, tx)
		if err != nil {
			return err
		}
		if got != tenantID.String() {
			t.Fatalf("expected bound tenant %s, got %q", tenantID, got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTenant: %v", err)
	}

	// Single-connection pool: the next borrower gets the same session.
	err = pgx.BeginFunc(ctx, database.Pool(), func(tx pgx.Tx) error {
		got, err := currentTenant(ctx, tx)
		if err != nil {
			return err
		}
		if got != "" {
			t.Fatalf("expected no tenant on reused connection, got %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("plain tx: %v", err)
	}
}

func TestWithTenantResetsOnError(t *testing.T) {
	database := dbtest.New(t, dbtest.Options{MaxConns: 1})
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.WithTenant(ctx, uuid.New(), func(tx pgx.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	err = pgx.BeginFunc(ctx, database.Pool(), func(tx pgx.Tx) error {
		got, err := currentTenant(ctx, tx)
		if err != nil {
			return err
		}
		if got != "" {
			t.Fatalf("tenant leaked after error path: %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("plain tx: %v", err)
	}
}

func TestWithTenantDiscardsConnectionOnPanic(t *testing.T) {
	database := dbtest.New(t, dbtest.Options{MaxConns: 1})
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = database.WithTenant(ctx, uuid.New(), func(tx pgx.Tx) error {
			panic("handler bug")
		})
	}()

	err := pgx.BeginFunc(ctx, database.Pool(), func(tx pgx.Tx) error {
		got, err := currentTenant(ctx, tx)
		if err != nil {
			return err
		}
		if got != "" {
			t.Fatalf("tenant leaked after panic: %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("plain tx after panic: %v", err)
	}
}

func TestWithTenantSurvivesCancellation(t *testing.T) {
	database := dbtest.New(t, dbtest.Options{MaxConns: 1})
	ctx, cancel := context.WithCancel(context.Background())

	err := database.WithTenant(ctx, uuid.New(), func(tx pgx.Tx) error {
		cancel()
		_, err := tx.Exec(ctx, `SELECT pg_sleep(1)`)
		return err
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}

	bg := context.Background()
	err = pgx.BeginFunc(bg, database.Pool(), func(tx pgx.Tx) error {
		got, err := currentTenant(bg, tx)
		if err != nil {
			return err
		}
		if got != "" {
			t.Fatalf("tenant leaked after cancellation: %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("plain tx after cancellation: %v", err)
	}
}
