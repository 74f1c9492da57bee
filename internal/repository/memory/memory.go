// Package memory implements the repository interfaces on maps guarded by
// a single mutex. It filters tenant-scoped data by tenant the same way the
// Postgres policies do, and is used to exercise services and handlers
// without a database.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository"
)

type state struct {
	mu sync.Mutex

	persons     map[uuid.UUID]models.Person
	tenants     map[uuid.UUID]models.Tenant
	memberships []models.Membership
	revoked     map[string]models.RevokedToken
	assetTypes  []models.AssetType
	machines    map[uuid.UUID]models.Machine
	events      []models.MachineEvent
	nextEventID int64

	// failMembershipInsert makes the next membership insert fail, to check
	// that tenant creation rolls back.
	failMembershipInsert error
}

// Store bundles one implementation of every repository over shared state.
type Store struct {
	Persons       *PersonStore
	Tenants       *TenantStore
	Memberships   *MembershipStore
	Revocations   *RevocationStore
	AssetTypes    *AssetTypeStore
	Machines      *MachineStore
	MachineEvents *MachineEventStore

	s *state
}

func New() *Store {
	s := &state{
		persons:  make(map[uuid.UUID]models.Person),
		tenants:  make(map[uuid.UUID]models.Tenant),
		revoked:  make(map[string]models.RevokedToken),
		machines: make(map[uuid.UUID]models.Machine),
		assetTypes: []models.AssetType{
			{ID: 1, Code: "cnc", Name: "CNC machine"},
			{ID: 2, Code: "press", Name: "Press"},
		},
	}
	return &Store{
		Persons:       &PersonStore{s},
		Tenants:       &TenantStore{s},
		Memberships:   &MembershipStore{s},
		Revocations:   &RevocationStore{s},
		AssetTypes:    &AssetTypeStore{s},
		Machines:      &MachineStore{s},
		MachineEvents: &MachineEventStore{s},
		s:             s,
	}
}

// FailNextMembershipInsert injects err into the next membership insert.
func (st *Store) FailNextMembershipInsert(err error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.failMembershipInsert = err
}

// SetTenantActive flips a tenant's active flag.
func (st *Store) SetTenantActive(id uuid.UUID, active bool) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if t, ok := st.s.tenants[id]; ok {
		t.IsActive = active
		st.s.tenants[id] = t
	}
}

// SetMembershipActive flips the active flag of every membership the person
// holds in the tenant.
func (st *Store) SetMembershipActive(personID, tenantID uuid.UUID, active bool) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for i, m := range st.s.memberships {
		if m.PersonID == personID && m.TenantID == tenantID {
			st.s.memberships[i].IsActive = active
		}
	}
}

// PutTenant stores a pre-provisioned tenant.
func (st *Store) PutTenant(t models.Tenant) models.Tenant {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()
	st.s.tenants[t.ID] = t
	return t
}

// ---------------------------------------------------------------
// Persons
// ---------------------------------------------------------------

type PersonStore struct{ s *state }

func (r *PersonStore) Create(_ context.Context, p models.Person) (*models.Person, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.persons {
		if strings.EqualFold(existing.Email, p.Email) {
			return nil, repository.ErrDuplicate
		}
	}
	p.ID = uuid.New()
	p.IsActive = true
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	if p.GlobalAccess == nil {
		p.GlobalAccess = []string{}
	}
	r.s.persons[p.ID] = p
	return &p, nil
}

func (r *PersonStore) GetByID(_ context.Context, id uuid.UUID) (*models.Person, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.persons[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r *PersonStore) GetByEmail(_ context.Context, email string) (*models.Person, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.persons {
		if strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *PersonStore) GetByExternalSubject(_ context.Context, subject string) (*models.Person, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.persons {
		if p.ExternalSubject != nil && *p.ExternalSubject == subject {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *PersonStore) LinkExternalSubject(_ context.Context, id uuid.UUID, subject string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.persons[id]
	if !ok || p.ExternalSubject != nil {
		return nil
	}
	p.ExternalSubject = &subject
	r.s.persons[id] = p
	return nil
}

func (r *PersonStore) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.persons[id]; ok {
		p.LastLogin = &at
		r.s.persons[id] = p
	}
	return nil
}

// Deactivate soft-deletes a person.
func (r *PersonStore) Deactivate(id uuid.UUID) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.persons[id]; ok {
		p.IsActive = false
		r.s.persons[id] = p
	}
}

// ---------------------------------------------------------------
// Tenants and memberships
// ---------------------------------------------------------------

type TenantStore struct{ s *state }

func (r *TenantStore) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tenants[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (r *TenantStore) GetBySubdomain(_ context.Context, subdomain string) (*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.tenantBySubdomain(subdomain), nil
}

func (s *state) tenantBySubdomain(subdomain string) *models.Tenant {
	for _, t := range s.tenants {
		if strings.EqualFold(t.Subdomain, subdomain) {
			return &t
		}
	}
	return nil
}

func (r *TenantStore) CreateWithMembership(_ context.Context, t models.Tenant, m models.Membership) (*models.Tenant, *models.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.tenantBySubdomain(t.Subdomain) != nil {
		return nil, nil, repository.ErrDuplicate
	}

	t.ID = uuid.New()
	t.Subdomain = strings.ToLower(t.Subdomain)
	t.IsActive = true
	t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()

	m.TenantID = t.ID
	// The tenant is only stored once the membership insert succeeded.
	created, err := r.s.insertMembership(m)
	if err != nil {
		return nil, nil, err
	}
	r.s.tenants[t.ID] = t
	return &t, created, nil
}

func (r *TenantStore) CreateWithFounder(_ context.Context, p models.Person, t models.Tenant, m models.Membership) (*repository.Founding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.persons {
		if strings.EqualFold(existing.Email, p.Email) ||
			(p.ExternalSubject != nil && existing.ExternalSubject != nil && *existing.ExternalSubject == *p.ExternalSubject) {
			return nil, repository.ErrPersonExists
		}
	}
	if r.s.tenantBySubdomain(t.Subdomain) != nil {
		return nil, repository.ErrDuplicate
	}

	p.ID = uuid.New()
	p.IsActive = true
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	if p.GlobalAccess == nil {
		p.GlobalAccess = []string{}
	}
	t.ID = uuid.New()
	t.Subdomain = strings.ToLower(t.Subdomain)
	t.IsActive = true
	t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()

	m.PersonID, m.TenantID = p.ID, t.ID
	// Nothing is stored until the membership insert succeeded.
	created, err := r.s.insertMembership(m)
	if err != nil {
		return nil, err
	}
	r.s.persons[p.ID] = p
	r.s.tenants[t.ID] = t
	return &repository.Founding{Person: &p, Tenant: &t, Membership: created}, nil
}

type MembershipStore struct{ s *state }

func (s *state) insertMembership(m models.Membership) (*models.Membership, error) {
	if err := s.failMembershipInsert; err != nil {
		s.failMembershipInsert = nil
		return nil, err
	}
	for _, existing := range s.memberships {
		if existing.PersonID == m.PersonID && existing.TenantID == m.TenantID && existing.Role == m.Role {
			return nil, repository.ErrDuplicate
		}
	}
	m.ID = uuid.New()
	m.IsActive = true
	m.CreatedAt, m.UpdatedAt = time.Now(), time.Now()
	if m.AccessLevel == nil {
		m.AccessLevel = []string{}
	}
	s.memberships = append(s.memberships, m)
	return &m, nil
}

func (r *MembershipStore) Create(_ context.Context, m models.Membership) (*models.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertMembership(m)
}

// ordered returns active memberships of the person, primary first then
// oldest, optionally restricted to active tenants.
func (s *state) ordered(personID uuid.UUID, activeTenantsOnly bool) []models.Membership {
	out := make([]models.Membership, 0)
	for _, m := range s.memberships {
		if m.PersonID != personID || !m.IsActive {
			continue
		}
		if activeTenantsOnly && !s.tenants[m.TenantID].IsActive {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MembershipStore) ListByPerson(_ context.Context, personID uuid.UUID) ([]models.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Membership, 0)
	for _, m := range r.s.memberships {
		if m.PersonID == personID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MembershipStore) ListAccessibleTenants(_ context.Context, personID uuid.UUID) ([]models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	primary := make(map[uuid.UUID]bool)
	for _, m := range r.s.ordered(personID, true) {
		primary[m.TenantID] = primary[m.TenantID] || m.IsPrimary
	}
	tenants := make([]models.Tenant, 0, len(primary))
	for id := range primary {
		tenants = append(tenants, r.s.tenants[id])
	}
	sort.Slice(tenants, func(i, j int) bool {
		pi, pj := primary[tenants[i].ID], primary[tenants[j].ID]
		if pi != pj {
			return pi
		}
		return tenants[i].Name < tenants[j].Name
	})
	return tenants, nil
}

func (r *MembershipStore) GetForTenant(_ context.Context, personID, tenantID uuid.UUID) (*models.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.ordered(personID, false) {
		if m.TenantID == tenantID {
			return &m, nil
		}
	}
	return nil, nil
}

func (r *MembershipStore) GetDefault(_ context.Context, personID uuid.UUID) (*models.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if list := r.s.ordered(personID, true); len(list) > 0 {
		return &list[0], nil
	}
	return nil, nil
}

func (r *MembershipStore) HasRole(_ context.Context, personID, tenantID uuid.UUID, role models.Role) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.ContainsFunc(r.s.memberships, func(m models.Membership) bool {
		return m.PersonID == personID && m.TenantID == tenantID && m.Role == role && m.IsActive
	}), nil
}

// ---------------------------------------------------------------
// Revoked tokens
// ---------------------------------------------------------------

type RevocationStore struct{ s *state }

func revocationKey(hash string, t models.TokenType) string {
	return string(t) + ":" + hash
}

func (r *RevocationStore) Insert(_ context.Context, rec models.RevokedToken) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := revocationKey(rec.TokenHash, rec.TokenType)
	if _, ok := r.s.revoked[key]; ok {
		return false, nil
	}
	rec.RevokedAt = time.Now()
	r.s.revoked[key] = rec
	return true, nil
}

func (r *RevocationStore) IsRevoked(_ context.Context, hash string, t models.TokenType, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.revoked[revocationKey(hash, t)]
	return ok && rec.ExpiresAt.After(now), nil
}

func (r *RevocationStore) ListActive(_ context.Context, now time.Time) ([]models.RevokedToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.RevokedToken, 0)
	for _, rec := range r.s.revoked {
		if rec.ExpiresAt.After(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *RevocationStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key, rec := range r.s.revoked {
		if !rec.ExpiresAt.After(before) {
			delete(r.s.revoked, key)
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------
// Global lookups
// ---------------------------------------------------------------

type AssetTypeStore struct{ s *state }

func (r *AssetTypeStore) List(context.Context) ([]models.AssetType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.assetTypes), nil
}

// ---------------------------------------------------------------
// Tenant-scoped data
// ---------------------------------------------------------------

type MachineStore struct{ s *state }

func requireTenant(tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return apperr.ErrNoTenantSelected
	}
	return nil
}

func (r *MachineStore) Create(_ context.Context, tenantID uuid.UUID, m models.Machine) (*models.Machine, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if m.AssetTypeID != nil && !slices.ContainsFunc(r.s.assetTypes, func(at models.AssetType) bool { return at.ID == *m.AssetTypeID }) {
		return nil, repository.ErrInvalidReference
	}
	m.ID = uuid.New()
	m.TenantID = tenantID
	if m.Status == "" {
		m.Status = models.MachineStatusOffline
	}
	m.CreatedAt, m.UpdatedAt = time.Now(), time.Now()
	r.s.machines[m.ID] = m
	return &m, nil
}

// visible mirrors the machines policy.
func (s *state) visible(tenantID, machineID uuid.UUID) (models.Machine, bool) {
	m, ok := s.machines[machineID]
	if !ok || m.TenantID != tenantID {
		return models.Machine{}, false
	}
	return m, true
}

func (r *MachineStore) GetByID(_ context.Context, tenantID, machineID uuid.UUID) (*models.Machine, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.visible(tenantID, machineID); ok {
		return &m, nil
	}
	return nil, nil
}

func (r *MachineStore) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]models.Machine, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]models.Machine, 0)
	for _, m := range r.s.machines {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MachineStore) Delete(_ context.Context, tenantID, machineID uuid.UUID) (bool, error) {
	if err := requireTenant(tenantID); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.visible(tenantID, machineID); !ok {
		return false, nil
	}
	delete(r.s.machines, machineID)
	r.s.events = slices.DeleteFunc(r.s.events, func(ev models.MachineEvent) bool { return ev.MachineID == machineID })
	return true, nil
}

func (r *MachineStore) RecordHeartbeat(_ context.Context, tenantID, machineID uuid.UUID, status string, payload []byte) (*models.MachineEvent, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.visible(tenantID, machineID)
	if !ok {
		return nil, nil
	}
	now := time.Now()
	m.Status = status
	m.LastHeartbeat = &now
	m.UpdatedAt = now
	r.s.machines[machineID] = m

	r.s.nextEventID++
	ev := models.MachineEvent{
		ID:        r.s.nextEventID,
		MachineID: machineID,
		Kind:      models.MachineEventHeartbeat,
		Status:    status,
		Payload:   payload,
		CreatedAt: now,
	}
	r.s.events = append(r.s.events, ev)
	return &ev, nil
}

type MachineEventStore struct{ s *state }

func (r *MachineEventStore) ListByMachine(_ context.Context, tenantID, machineID uuid.UUID, before int64, limit int) ([]models.MachineEvent, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]models.MachineEvent, 0)
	if _, ok := r.s.visible(tenantID, machineID); !ok {
		return out, nil
	}
	for i := len(r.s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := r.s.events[i]
		if ev.MachineID != machineID || (before > 0 && ev.ID >= before) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var (
	_ repository.PersonRepository       = (*PersonStore)(nil)
	_ repository.TenantRepository       = (*TenantStore)(nil)
	_ repository.MembershipRepository   = (*MembershipStore)(nil)
	_ repository.RevocationRepository   = (*RevocationStore)(nil)
	_ repository.AssetTypeRepository    = (*AssetTypeStore)(nil)
	_ repository.MachineRepository      = (*MachineStore)(nil)
	_ repository.MachineEventRepository = (*MachineEventStore)(nil)
)
