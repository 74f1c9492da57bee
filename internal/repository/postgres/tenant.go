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

type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

const tenantColumns = `id, name, subdomain, settings, is_active, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t        models.Tenant
		settings []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Subdomain, &settings, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Settings = settings
	return &t, nil
}

func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *TenantStore) GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE lower(subdomain) = lower($1)`

	t, err := scanTenant(s.pool.QueryRow(ctx, query, subdomain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant by subdomain: %w", err)
	}
	return t, nil
}

// CreateWithMembership writes both rows in one transaction. A failure on
// the membership insert rolls the tenant back, so a tenant without its
// creator is never visible.
func (s *TenantStore) CreateWithMembership(ctx context.Context, t models.Tenant, m models.Membership) (*models.Tenant, *models.Membership, error) {
	var (
		tenant     *models.Tenant
		membership *models.Membership
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		tenant, err = insertTenant(ctx, tx, t)
		if err != nil {
			return err
		}

		m.TenantID = tenant.ID
		membership, err = insertMembership(ctx, tx, m)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tenant, membership, nil
}

// CreateWithFounder signs up a new person together with the tenant they
// found. The person is inserted first, so an email or subject collision
// surfaces as ErrPersonExists before the subdomain is checked.
func (s *TenantStore) CreateWithFounder(ctx context.Context, p models.Person, t models.Tenant, m models.Membership) (*repository.Founding, error) {
	var f repository.Founding
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		f.Person, err = insertPerson(ctx, tx, p)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return repository.ErrPersonExists
			}
			return err
		}

		f.Tenant, err = insertTenant(ctx, tx, t)
		if err != nil {
			return err
		}

		m.PersonID = f.Person.ID
		m.TenantID = f.Tenant.ID
		f.Membership, err = insertMembership(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func insertTenant(ctx context.Context, q querier, t models.Tenant) (*models.Tenant, error) {
	if len(t.Settings) == 0 {
		t.Settings = []byte(`{}`)
	}
	tenant, err := scanTenant(q.QueryRow(ctx, `
		INSERT INTO tenants (name, subdomain, settings)
		VALUES ($1, lower($2), $3)
		RETURNING `+tenantColumns,
		t.Name, t.Subdomain, t.Settings,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	return tenant, nil
}
