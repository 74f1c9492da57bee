package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Person is a human identity. Persons are global: membership rows, not a
// column on the person, decide which tenants they can reach.
type Person struct {
	ID              uuid.UUID  `json:"id"`
	ExternalSubject *string    `json:"-"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           *string    `json:"phone,omitempty"`
	GlobalAccess    []string   `json:"global_access"`
	PasswordHash    string     `json:"-"`
	IsActive        bool       `json:"is_active"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FirstName and LastName split Name on the first run of whitespace.
func (p Person) FirstName() string {
	first, _ := splitName(p.Name)
	return first
}

func (p Person) LastName() string {
	_, last := splitName(p.Name)
	return last
}

func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// Tenant is the isolation boundary. Deactivating a tenant blocks new
// sessions without deleting its data.
type Tenant struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Subdomain string          `json:"subdomain"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Role string

const (
	RoleInternal    Role = "internal"
	RoleCustomer    Role = "customer"
	RoleVendor      Role = "vendor"
	RoleDistributor Role = "distributor"

	// RolePending is carried by tokens of persons with no tenant bound.
	// It is never stored on a membership.
	RolePending Role = "pending"
)

// IsMembershipRole reports whether r may appear on a membership row.
func (r Role) IsMembershipRole() bool {
	switch r {
	case RoleInternal, RoleCustomer, RoleVendor, RoleDistributor:
		return true
	}
	return false
}

const (
	AccessAdmin    = "admin"
	AccessStandard = "standard"
)

// Membership grants a person one role inside one tenant. A person holds
// at most one row per (tenant, role).
type Membership struct {
	ID          uuid.UUID `json:"id"`
	PersonID    uuid.UUID `json:"person_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Role        Role      `json:"role"`
	AccessLevel []string  `json:"access_level"`
	IsPrimary   bool      `json:"is_primary"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// RevokedToken records a token that must be rejected until ExpiresAt.
// Only the hash of the token is stored.
type RevokedToken struct {
	TokenHash string
	TokenType TokenType
	PersonID  uuid.UUID
	TenantID  *uuid.UUID
	ExpiresAt time.Time
	RevokedAt time.Time
}

// AssetType is a global catalog entry, readable by every tenant.
type AssetType struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Machine is a tenant-scoped piece of equipment.
type Machine struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	AssetTypeID   *int            `json:"asset_type_id,omitempty"`
	Name          string          `json:"name"`
	IPAddress     string          `json:"ip_address"`
	Port          int             `json:"port"`
	Protocol      string          `json:"protocol"`
	Status        string          `json:"status"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

const (
	MachineStatusOffline = "offline"
	MachineStatusOnline  = "online"
	MachineStatusError   = "error"
)

// MachineEvent is a child row of Machine. It has no tenant column of its
// own; isolation follows the parent machine.
type MachineEvent struct {
	ID        int64           `json:"id"`
	MachineID uuid.UUID       `json:"machine_id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const MachineEventHeartbeat = "heartbeat"
