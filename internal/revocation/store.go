// Package revocation keeps the set of revoked token hashes. The Postgres
// ledger is the source of truth; an optional Redis set with per-token
// TTLs answers lookups once it has been warmed from the ledger.
package revocation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/observ"
	"github.com/lalith-99/tenantgate/internal/repository"
	"go.uber.org/zap"
)

// ExpiringSet is the fast lookup layer, implemented by cache.RevokedSet.
type ExpiringSet interface {
	Add(ctx context.Context, hash string, tokenType models.TokenType, ttl time.Duration) error
	Lookup(ctx context.Context, hash string, tokenType models.TokenType) (revoked, warm bool, err error)
	MarkWarm(ctx context.Context) error
	MarkCold(ctx context.Context) error
}

type Store struct {
	ledger  repository.RevocationRepository
	set     ExpiringSet
	logger  *zap.Logger
	metrics *observ.Metrics
	now     func() time.Time

	// retention is how long a record outlives its token before Purge
	// removes it.
	retention time.Duration

	// stale is set when a revocation reached the ledger but not the set.
	// Until the next successful Warm, a warm set is not trusted to answer
	// negatively on this instance.
	stale atomic.Bool
}

type Option func(*Store)

// WithRetention keeps ledger records for d after their token expires.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New builds a store. set may be nil, in which case every lookup goes to
// the ledger.
func New(ledger repository.RevocationRepository, set ExpiringSet, logger *zap.Logger, metrics *observ.Metrics, opts ...Option) *Store {
	s := &Store{
		ledger:  ledger,
		set:     set,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revoke records the token. It reports false when the token was already
// revoked, which callers may treat as a no-op.
func (s *Store) Revoke(ctx context.Context, rec models.RevokedToken) (bool, error) {
	inserted, err := s.ledger.Insert(ctx, rec)
	if err != nil {
		return false, err
	}
	if inserted {
		s.metrics.TokenRevoked(string(rec.TokenType))
	}

	if s.set != nil {
		if err := s.set.Add(ctx, rec.TokenHash, rec.TokenType, rec.ExpiresAt.Sub(s.now())); err != nil {
			s.invalidate(ctx, err)
		}
	}
	return inserted, nil
}

// invalidate handles a record the set failed to store. The set is no
// longer complete, so it is flagged cold for every instance; if that also
// fails, this instance stops trusting it locally. Either way lookups go to
// the ledger until the purger re-warms the set.
func (s *Store) invalidate(ctx context.Context, cause error) {
	s.stale.Store(true)
	if err := s.set.MarkCold(ctx); err != nil {
		s.logger.Error("revoked set is missing a record and could not be marked cold",
			zap.NamedError("add_error", cause), zap.Error(err))
		return
	}
	s.logger.Warn("cache revoked token, set marked cold", zap.Error(cause))
}

func (s *Store) IsRevoked(ctx context.Context, hash string, tokenType models.TokenType) (bool, error) {
	if s.set != nil {
		revoked, warm, err := s.set.Lookup(ctx, hash, tokenType)
		switch {
		case err != nil:
			s.logger.Warn("revoked set lookup failed, using ledger", zap.Error(err))
		case revoked:
			return true, nil
		case warm && !s.stale.Load():
			return false, nil
		}
	}

	revoked, err := s.ledger.IsRevoked(ctx, hash, tokenType, s.now())
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return revoked, nil
}

// Warm copies every unexpired ledger record into the set and then marks
// it warm. Records written concurrently go to both layers, so none are
// lost between the load and the flag.
func (s *Store) Warm(ctx context.Context) error {
	if s.set == nil {
		return nil
	}

	// Cleared before loading so a failure during the load sets it again.
	s.stale.Store(false)
	now := s.now()
	records, err := s.ledger.ListActive(ctx, now)
	if err != nil {
		return fmt.Errorf("load revoked tokens: %w", err)
	}
	for _, rec := range records {
		if err := s.set.Add(ctx, rec.TokenHash, rec.TokenType, rec.ExpiresAt.Sub(now)); err != nil {
			s.stale.Store(true)
			return err
		}
	}
	if err := s.set.MarkWarm(ctx); err != nil {
		s.stale.Store(true)
		return err
	}

	s.logger.Info("revoked token set warmed", zap.Int("records", len(records)))
	return nil
}

// Purge removes ledger records whose tokens expired more than the
// retention period ago. Lookups already ignore expired records; the
// retention window only keeps them around for audit. The set expires its
// own members.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	n, err := s.ledger.PurgeExpired(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	s.metrics.RevocationsPurged(n)
	return n, nil
}
