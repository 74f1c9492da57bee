package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tenantgate/internal/models"
)

// AssetTypeStore reads the global catalog. No tenant binding is needed.
type AssetTypeStore struct {
	pool *pgxpool.Pool
}

func NewAssetTypeStore(pool *pgxpool.Pool) *AssetTypeStore {
	return &AssetTypeStore{pool: pool}
}

func (s *AssetTypeStore) List(ctx context.Context) ([]models.AssetType, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, code, name FROM asset_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list asset types: %w", err)
	}
	defer rows.Close()

	types := make([]models.AssetType, 0)
	for rows.Next() {
		var a models.AssetType
		if err := rows.Scan(&a.ID, &a.Code, &a.Name); err != nil {
			return nil, fmt.Errorf("scan asset type: %w", err)
		}
		types = append(types, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset types: %w", err)
	}
	return types, nil
}
