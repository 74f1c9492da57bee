package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tenantgate/internal/models"
)

type RevocationStore struct {
	pool *pgxpool.Pool
}

func NewRevocationStore(pool *pgxpool.Pool) *RevocationStore {
	return &RevocationStore{pool: pool}
}

func (s *RevocationStore) Insert(ctx context.Context, rec models.RevokedToken) (bool, error) {
	query := `
		INSERT INTO revoked_tokens (token_hash, token_type, person_id, tenant_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash, token_type) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, rec.TokenHash, rec.TokenType, rec.PersonID, rec.TenantID, rec.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("insert revoked token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, hash string, tokenType models.TokenType, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM revoked_tokens
			WHERE token_hash = $1 AND token_type = $2 AND expires_at > $3
		)`

	var revoked bool
	if err := s.pool.QueryRow(ctx, query, hash, tokenType, now).Scan(&revoked); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *RevocationStore) ListActive(ctx context.Context, now time.Time) ([]models.RevokedToken, error) {
	query := `
		SELECT token_hash, token_type, person_id, tenant_id, expires_at, revoked_at
		FROM revoked_tokens
		WHERE expires_at > $1`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list revoked tokens: %w", err)
	}
	defer rows.Close()

	records := make([]models.RevokedToken, 0)
	for rows.Next() {
		var r models.RevokedToken
		if err := rows.Scan(&r.TokenHash, &r.TokenType, &r.PersonID, &r.TenantID, &r.ExpiresAt, &r.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan revoked token: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked tokens: %w", err)
	}
	return records, nil
}

func (s *RevocationStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
