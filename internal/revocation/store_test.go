package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/cache"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func record(hash string, ttl time.Duration) models.RevokedToken {
	return models.RevokedToken{
		TokenHash: hash,
		TokenType: models.TokenRefresh,
		PersonID:  uuid.New(),
		ExpiresAt: time.Now().Add(ttl),
	}
}

func newRedisSet(t *testing.T) (*miniredis.Miniredis, *cache.RevokedSet) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewRevokedSet(client)
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := New(memory.New().Revocations, nil, zap.NewNop(), nil)
	ctx := context.Background()
	rec := record("h1", time.Hour)

	inserted, err := store.Revoke(ctx, rec)
	if err != nil || !inserted {
		t.Fatalf("first revoke: %v %v", inserted, err)
	}
	inserted, err = store.Revoke(ctx, rec)
	if err != nil {
		t.Fatalf("second revoke must not fail: %v", err)
	}
	if inserted {
		t.Fatal("second revoke must report no new record")
	}

	revoked, err := store.IsRevoked(ctx, "h1", models.TokenRefresh)
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
}

func TestColdSetFallsBackToLedger(t *testing.T) {
	mem := memory.New()
	_, set := newRedisSet(t)
	ctx := context.Background()

	// Written before the Redis layer existed.
	if _, err := mem.Revocations.Insert(ctx, record("old", time.Hour)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	store := New(mem.Revocations, set, zap.NewNop(), nil)

	revoked, err := store.IsRevoked(ctx, "old", models.TokenRefresh)
	if err != nil || !revoked {
		t.Fatalf("cold set must consult the ledger, got %v %v", revoked, err)
	}
}

func TestWarmLoadsLedgerIntoSet(t *testing.T) {
	mem := memory.New()
	mr, set := newRedisSet(t)
	ctx := context.Background()

	if _, err := mem.Revocations.Insert(ctx, record("old", time.Hour)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if _, err := mem.Revocations.Insert(ctx, record("expired", -time.Minute)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	store := New(mem.Revocations, set, zap.NewNop(), nil)
	if err := store.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	if !mr.Exists("revoked:refresh:old") {
		t.Fatal("expected active record copied into the set")
	}
	if mr.Exists("revoked:refresh:expired") {
		t.Fatal("expired record must not be copied")
	}

	revoked, warm, err := set.Lookup(ctx, "old", models.TokenRefresh)
	if err != nil || !revoked || !warm {
		t.Fatalf("expected warm positive lookup, got revoked=%v warm=%v err=%v", revoked, warm, err)
	}
}

type brokenSet struct{}

func (brokenSet) Add(context.Context, string, models.TokenType, time.Duration) error {
	return errors.New("redis down")
}

func (brokenSet) Lookup(context.Context, string, models.TokenType) (bool, bool, error) {
	return false, false, errors.New("redis down")
}

func (brokenSet) MarkWarm(context.Context) error { return errors.New("redis down") }

func (brokenSet) MarkCold(context.Context) error { return errors.New("redis down") }

func TestBrokenSetDoesNotHideRevocations(t *testing.T) {
	store := New(memory.New().Revocations, brokenSet{}, zap.NewNop(), nil)
	ctx := context.Background()

	if _, err := store.Revoke(ctx, record("h1", time.Hour)); err != nil {
		t.Fatalf("revoke must succeed when only the cache fails: %v", err)
	}
	revoked, err := store.IsRevoked(ctx, "h1", models.TokenRefresh)
	if err != nil || !revoked {
		t.Fatalf("expected ledger to answer, got %v %v", revoked, err)
	}
}

func TestRevokeDuringRedisOutageIsNotLostOnceRedisRecovers(t *testing.T) {
	mem := memory.New()
	mr, set := newRedisSet(t)
	ctx := context.Background()

	store := New(mem.Revocations, set, zap.NewNop(), nil)
	if err := store.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	mr.SetError("ERR injected failure")
	if _, err := store.Revoke(ctx, record("h1", time.Hour)); err != nil {
		t.Fatalf("revoke must succeed when only the cache fails: %v", err)
	}
	mr.SetError("")

	// The set still claims to be warm but never received h1.
	revoked, err := store.IsRevoked(ctx, "h1", models.TokenRefresh)
	if err != nil || !revoked {
		t.Fatalf("revoked token accepted: revoked=%v err=%v", revoked, err)
	}

	if err := store.Warm(ctx); err != nil {
		t.Fatalf("re-warm: %v", err)
	}
	if !mr.Exists("revoked:refresh:h1") {
		t.Fatal("re-warm must copy the missed record into the set")
	}
	revoked, err = store.IsRevoked(ctx, "h1", models.TokenRefresh)
	if err != nil || !revoked {
		t.Fatalf("after re-warm: revoked=%v err=%v", revoked, err)
	}
}

// addFails stores nothing but otherwise behaves like the Redis set.
type addFails struct{ *cache.RevokedSet }

func (addFails) Add(context.Context, string, models.TokenType, time.Duration) error {
	return errors.New("write rejected")
}

func TestFailedAddMarksSetColdForOtherInstances(t *testing.T) {
	mem := memory.New()
	mr, set := newRedisSet(t)
	ctx := context.Background()

	writer := New(mem.Revocations, addFails{set}, zap.NewNop(), nil)
	reader := New(mem.Revocations, set, zap.NewNop(), nil)
	if err := reader.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	if _, err := writer.Revoke(ctx, record("h1", time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if mr.Exists("revoked:warm") {
		t.Fatal("warm flag must be dropped when a record could not be cached")
	}

	revoked, err := reader.IsRevoked(ctx, "h1", models.TokenRefresh)
	if err != nil || !revoked {
		t.Fatalf("another instance must fall back to the ledger, got %v %v", revoked, err)
	}
}

func TestPurgeRemovesExpiredOnly(t *testing.T) {
	mem := memory.New()
	store := New(mem.Revocations, nil, zap.NewNop(), nil)
	ctx := context.Background()

	if _, err := store.Revoke(ctx, record("live", time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Revoke(ctx, record("dead", -time.Minute)); err != nil {
		t.Fatal(err)
	}

	n, err := store.Purge(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d %v", n, err)
	}
	if revoked, _ := store.IsRevoked(ctx, "live", models.TokenRefresh); !revoked {
		t.Fatal("purge removed an unexpired record")
	}
}

func TestPurgeKeepsRecordsForRetention(t *testing.T) {
	mem := memory.New()
	store := New(mem.Revocations, nil, zap.NewNop(), nil, WithRetention(time.Hour))
	ctx := context.Background()

	if _, err := store.Revoke(ctx, record("recent", -30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Revoke(ctx, record("old", -2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := store.Purge(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected only the record past retention purged, got %d %v", n, err)
	}
	active, err := mem.Revocations.ListActive(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].TokenHash != "recent" {
		t.Fatalf("retained records = %+v", active)
	}
}
