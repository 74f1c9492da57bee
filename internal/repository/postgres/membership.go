package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

const membershipColumns = `
	m.id, m.person_id, m.tenant_id, m.role, m.access_level,
	m.is_primary, m.is_active, m.created_at, m.updated_at`

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	err := row.Scan(
		&m.ID,
		&m.PersonID,
		&m.TenantID,
		&m.Role,
		&m.AccessLevel,
		&m.IsPrimary,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertMembership relies on ON CONFLICT DO NOTHING so a concurrent
// duplicate join returns ErrDuplicate instead of aborting a transaction.
func insertMembership(ctx context.Context, q querier, m models.Membership) (*models.Membership, error) {
	if m.AccessLevel == nil {
		m.AccessLevel = []string{}
	}

	query := `
		INSERT INTO tenant_memberships AS m (person_id, tenant_id, role, access_level, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (person_id, tenant_id, role) DO NOTHING
		RETURNING` + membershipColumns

	created, err := scanMembership(q.QueryRow(ctx, query, m.PersonID, m.TenantID, m.Role, m.AccessLevel, m.IsPrimary))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	return created, nil
}

func (s *MembershipStore) Create(ctx context.Context, m models.Membership) (*models.Membership, error) {
	return insertMembership(ctx, s.pool, m)
}

func (s *MembershipStore) ListByPerson(ctx context.Context, personID uuid.UUID) ([]models.Membership, error) {
	query := `
		SELECT` + membershipColumns + `
		FROM tenant_memberships m
		WHERE m.person_id = $1
		ORDER BY m.is_primary DESC, m.created_at`

	rows, err := s.pool.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]models.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}

func (s *MembershipStore) ListAccessibleTenants(ctx context.Context, personID uuid.UUID) ([]models.Tenant, error) {
	query := `
		SELECT t.id, t.name, t.subdomain, t.settings, t.is_active, t.created_at, t.updated_at
		FROM tenants t
		JOIN (
			SELECT tenant_id, bool_or(is_primary) AS is_primary
			FROM tenant_memberships
			WHERE person_id = $1 AND is_active
			GROUP BY tenant_id
		) m ON m.tenant_id = t.id
		WHERE t.is_active
		ORDER BY m.is_primary DESC, t.name`

	rows, err := s.pool.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("list accessible tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]models.Tenant, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

func (s *MembershipStore) GetForTenant(ctx context.Context, personID, tenantID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT` + membershipColumns + `
		FROM tenant_memberships m
		WHERE m.person_id = $1 AND m.tenant_id = $2 AND m.is_active
		ORDER BY m.is_primary DESC, m.created_at
		LIMIT 1`

	m, err := scanMembership(s.pool.QueryRow(ctx, query, personID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *MembershipStore) GetDefault(ctx context.Context, personID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT` + membershipColumns + `
		FROM tenant_memberships m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.person_id = $1 AND m.is_active AND t.is_active
		ORDER BY m.is_primary DESC, m.created_at
		LIMIT 1`

	m, err := scanMembership(s.pool.QueryRow(ctx, query, personID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get default membership: %w", err)
	}
	return m, nil
}

func (s *MembershipStore) HasRole(ctx context.Context, personID, tenantID uuid.UUID, role models.Role) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tenant_memberships
			WHERE person_id = $1 AND tenant_id = $2 AND role = $3 AND is_active
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, personID, tenantID, role).Scan(&exists); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}
