package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/models"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("repository: duplicate")

// ErrPersonExists is returned by a signup whose email or OAuth subject
// already belongs to a person.
var ErrPersonExists = errors.New("repository: person exists")

// ErrInvalidReference is returned when a write names a row that does not
// exist, such as an unknown asset type.
var ErrInvalidReference = errors.New("repository: invalid reference")

// Lookups return nil, nil when the row does not exist.
//
// Persons, tenants, memberships and revoked tokens are identity data and
// are not tenant-scoped. Tenant-scoped repositories take tenantID
// explicitly on every method; implementations must bind it to the storage
// session for the duration of the call.

type PersonRepository interface {
	// Create inserts a person. ErrDuplicate if the email is taken.
	Create(ctx context.Context, p models.Person) (*models.Person, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error)

	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*models.Person, error)

	GetByExternalSubject(ctx context.Context, subject string) (*models.Person, error)

	// LinkExternalSubject records the OAuth subject on first OAuth login.
	LinkExternalSubject(ctx context.Context, id uuid.UUID, subject string) error

	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetBySubdomain matches case-insensitively.
	GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)

	// CreateWithMembership inserts the tenant and the creator's membership
	// atomically. m.TenantID is filled in from the new tenant. ErrDuplicate
	// if the subdomain is taken; on any error neither row exists.
	CreateWithMembership(ctx context.Context, t models.Tenant, m models.Membership) (*models.Tenant, *models.Membership, error)

	// CreateWithFounder inserts a new person, a new tenant and the
	// person's membership atomically. m.PersonID and m.TenantID are filled
	// in. ErrPersonExists if the person's email or subject is taken,
	// ErrDuplicate if the subdomain is; on any error no row exists.
	CreateWithFounder(ctx context.Context, p models.Person, t models.Tenant, m models.Membership) (*Founding, error)
}

// Founding is a tenant created together with its first member.
type Founding struct {
	Person     *models.Person
	Tenant     *models.Tenant
	Membership *models.Membership
}

type MembershipRepository interface {
	// Create inserts a membership. ErrDuplicate if the person already holds
	// the role in the tenant.
	Create(ctx context.Context, m models.Membership) (*models.Membership, error)

	ListByPerson(ctx context.Context, personID uuid.UUID) ([]models.Membership, error)

	// ListAccessibleTenants returns active tenants with at least one active
	// membership for the person, primary first, then by name.
	ListAccessibleTenants(ctx context.Context, personID uuid.UUID) ([]models.Tenant, error)

	// GetForTenant returns the person's preferred active membership in the
	// tenant: primary first, then oldest.
	GetForTenant(ctx context.Context, personID, tenantID uuid.UUID) (*models.Membership, error)

	// GetDefault returns the preferred active membership across all active
	// tenants, or nil for a pending person.
	GetDefault(ctx context.Context, personID uuid.UUID) (*models.Membership, error)

	HasRole(ctx context.Context, personID, tenantID uuid.UUID, role models.Role) (bool, error)
}

type RevocationRepository interface {
	// Insert records a revoked token. inserted is false when the (hash,
	// type) pair was already recorded.
	Insert(ctx context.Context, rec models.RevokedToken) (inserted bool, err error)

	// IsRevoked reports whether an unexpired record exists at now.
	IsRevoked(ctx context.Context, hash string, tokenType models.TokenType, now time.Time) (bool, error)

	// ListActive returns every record still unexpired at now.
	ListActive(ctx context.Context, now time.Time) ([]models.RevokedToken, error)

	// PurgeExpired deletes records that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type AssetTypeRepository interface {
	List(ctx context.Context) ([]models.AssetType, error)
}

type MachineRepository interface {
	// Create inserts a machine. ErrInvalidReference for an unknown asset
	// type.
	Create(ctx context.Context, tenantID uuid.UUID, m models.Machine) (*models.Machine, error)

	GetByID(ctx context.Context, tenantID, machineID uuid.UUID) (*models.Machine, error)

	// ListByTenant returns machines newest first, never nil.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Machine, error)

	// Delete reports whether a row was removed.
	Delete(ctx context.Context, tenantID, machineID uuid.UUID) (bool, error)

	// RecordHeartbeat updates the machine's status and appends a heartbeat
	// event in one transaction. nil, nil if the machine is not visible.
	RecordHeartbeat(ctx context.Context, tenantID, machineID uuid.UUID, status string, payload []byte) (*models.MachineEvent, error)
}

type MachineEventRepository interface {
	// ListByMachine pages newest first. before=0 starts from the latest.
	ListByMachine(ctx context.Context, tenantID, machineID uuid.UUID, before int64, limit int) ([]models.MachineEvent, error)
}
