package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"go.uber.org/zap"
)

// TenantSetting is the session variable the row-level-security policies
// compare tenant_id against.
const TenantSetting = "app.current_tenant_id"

const bindTenantSQL = `SELECT set_config('` + TenantSetting + `', $1, true)`

// rollbackTimeout bounds cleanup that must run even after the request
// context is cancelled.
const rollbackTimeout = 5 * time.Second

// WithTenant runs fn in a transaction with tenantID bound as the current
// tenant. Every tenant-scoped query must run inside it.
//
// How the binding works:
//   - One connection is acquired from the pool and a transaction begun.
//   - set_config(..., true) stores the tenant in app.current_tenant_id for
//     this transaction only. The row-level-security policies compare
//     tenant_id against it, so fn cannot read or write another tenant's
//     rows even if a query forgets its WHERE clause.
//   - Commit or rollback clears the setting. The next borrower of the
//     connection starts with no tenant.
//   - If fn fails, the transaction is rolled back on a fresh context, so
//     a cancelled request still cleans up.
//   - A connection whose transaction could not be closed cleanly (a panic
//     in fn, a failed rollback) is destroyed instead of being returned to
//     the pool.
//
// A nil tenantID is refused with no_tenant_selected before any connection
// is taken.
func (db *DB) WithTenant(ctx context.Context, tenantID uuid.UUID, fn func(pgx.Tx) error) error {
	if tenantID == uuid.Nil {
		return apperr.ErrNoTenantSelected
	}
	return db.bound(ctx, tenantID.String(), fn)
}

func (db *DB) bound(ctx context.Context, value string, fn func(pgx.Tx) error) (err error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			db.release(conn)
			panic(p)
		}
		db.release(conn)
	}()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tenant tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := tx.Rollback(rctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.logger.Warn("rollback tenant tx", zap.Error(rbErr))
		}
	}()

	if _, err = tx.Exec(ctx, bindTenantSQL, value); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}

	// A panic in fn skips the rollback above; release sees the open
	// transaction and discards the connection.
	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tenant tx: %w", err)
	}
	return nil
}

// release returns conn to the pool only when it is idle outside any
// transaction, which is the only state where the transaction-local tenant
// binding is known to be gone.
func (db *DB) release(conn *pgxpool.Conn) {
	if clean(conn) {
		conn.Release()
		return
	}

	db.metrics.ConnectionDiscarded()
	db.logger.Error("discarding connection with unresettable tenant binding")

	raw := conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	_ = raw.Close(ctx)
}

func clean(conn *pgxpool.Conn) bool {
	pg := conn.Conn().PgConn()
	return !pg.IsClosed() && !pg.IsBusy() && pg.TxStatus() == 'I'
}
