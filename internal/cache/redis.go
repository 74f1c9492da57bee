package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/redis/go-redis/v9"
)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RevokedSet is an expiring set of revoked token hashes. Each member
// expires together with the token it blocks.
type RevokedSet struct {
	client *redis.Client
	prefix string
}

func NewRevokedSet(client *redis.Client) *RevokedSet {
	return &RevokedSet{client: client, prefix: "revoked:"}
}

func (s *RevokedSet) key(hash string, tokenType models.TokenType) string {
	return s.prefix + string(tokenType) + ":" + hash
}

// Add stores the hash for ttl. Non-positive ttls are ignored since the
// token has already expired.
func (s *RevokedSet) Add(ctx context.Context, hash string, tokenType models.TokenType, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(hash, tokenType), 1, ttl).Err(); err != nil {
		return fmt.Errorf("add revoked token: %w", err)
	}
	return nil
}

// Lookup reports whether hash is in the set and whether the set is warm,
// meaning it was fully loaded from the durable store since Redis last
// lost its data. A cold set can only answer positively.
func (s *RevokedSet) Lookup(ctx context.Context, hash string, tokenType models.TokenType) (revoked, warm bool, err error) {
	vals, err := s.client.MGet(ctx, s.warmKey(), s.key(hash, tokenType)).Result()
	if err != nil {
		return false, false, fmt.Errorf("check revoked token: %w", err)
	}
	return vals[1] != nil, vals[0] != nil, nil
}

// MarkWarm flags the set as complete. The flag has no TTL, so it only
// disappears when Redis loses its data.
func (s *RevokedSet) MarkWarm(ctx context.Context) error {
	if err := s.client.Set(ctx, s.warmKey(), 1, 0).Err(); err != nil {
		return fmt.Errorf("mark revoked set warm: %w", err)
	}
	return nil
}

// MarkCold drops the warm flag. Lookups then only answer positively until
// the set is warmed again.
func (s *RevokedSet) MarkCold(ctx context.Context) error {
	if err := s.client.Del(ctx, s.warmKey()).Err(); err != nil {
		return fmt.Errorf("mark revoked set cold: %w", err)
	}
	return nil
}

func (s *RevokedSet) warmKey() string {
	return s.prefix + "warm"
}

// StateStore holds OAuth state values between the authorize redirect and
// the callback. Each state can be consumed once.
type StateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateStore(client *redis.Client, ttl time.Duration) *StateStore {
	return &StateStore{client: client, ttl: ttl}
}

func (s *StateStore) Save(ctx context.Context, state string) error {
	ok, err := s.client.SetNX(ctx, "oauth_state:"+state, 1, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("save oauth state: duplicate state")
	}
	return nil
}

// Consume reports whether the state was issued and not used before.
func (s *StateStore) Consume(ctx context.Context, state string) (bool, error) {
	n, err := s.client.Del(ctx, "oauth_state:"+state).Result()
	if err != nil {
		return false, fmt.Errorf("consume oauth state: %w", err)
	}
	return n == 1, nil
}
