package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository"
)

type PersonStore struct {
	pool *pgxpool.Pool
}

func NewPersonStore(pool *pgxpool.Pool) *PersonStore {
	return &PersonStore{pool: pool}
}

const personColumns = `
	id, external_subject, name, email, phone, global_access,
	COALESCE(password_hash, ''), is_active, last_login, created_at, updated_at`

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	err := row.Scan(
		&p.ID,
		&p.ExternalSubject,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.GlobalAccess,
		&p.PasswordHash,
		&p.IsActive,
		&p.LastLogin,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PersonStore) Create(ctx context.Context, p models.Person) (*models.Person, error) {
	return insertPerson(ctx, s.pool, p)
}

// insertPerson maps an email or subject collision to ErrDuplicate.
func insertPerson(ctx context.Context, q querier, p models.Person) (*models.Person, error) {
	query := `
		INSERT INTO persons (external_subject, name, email, phone, global_access, password_hash)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING` + personColumns

	if p.GlobalAccess == nil {
		p.GlobalAccess = []string{}
	}

	created, err := scanPerson(q.QueryRow(ctx, query,
		p.ExternalSubject, p.Name, p.Email, p.Phone, p.GlobalAccess, p.PasswordHash,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("insert person: %w", err)
	}
	return created, nil
}

func (s *PersonStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	return s.getOne(ctx, "get person", `SELECT`+personColumns+` FROM persons WHERE id = $1`, id)
}

func (s *PersonStore) GetByEmail(ctx context.Context, email string) (*models.Person, error) {
	return s.getOne(ctx, "get person by email", `SELECT`+personColumns+` FROM persons WHERE lower(email) = lower($1)`, email)
}

func (s *PersonStore) GetByExternalSubject(ctx context.Context, subject string) (*models.Person, error) {
	return s.getOne(ctx, "get person by subject", `SELECT`+personColumns+` FROM persons WHERE external_subject = $1`, subject)
}

func (s *PersonStore) getOne(ctx context.Context, op, query string, arg any) (*models.Person, error) {
	p, err := scanPerson(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PersonStore) LinkExternalSubject(ctx context.Context, id uuid.UUID, subject string) error {
	query := `
		UPDATE persons
		SET external_subject = $2, updated_at = now()
		WHERE id = $1 AND external_subject IS NULL`

	if _, err := s.pool.Exec(ctx, query, id, subject); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("link external subject: %w", err)
	}
	return nil
}

func (s *PersonStore) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE persons SET last_login = $2 WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
