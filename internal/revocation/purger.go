package revocation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunPurger purges expired records every interval and re-warms the set
// until ctx is cancelled. Re-warming restores lookups after Redis loses
// its data.
func (s *Store) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx)
			if err != nil {
				s.logger.Error("purge revoked tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("purged revoked tokens", zap.Int64("count", n))
			}
			if err := s.Warm(ctx); err != nil {
				s.logger.Warn("re-warm revoked token set", zap.Error(err))
			}
		}
	}
}
