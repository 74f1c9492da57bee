package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/tenantgate/internal/db"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository"
)

// MachineStore is tenant-scoped. Every statement runs inside
// db.WithTenant, so row-level security filters it even if a WHERE clause
// is wrong; the explicit tenant_id predicates are a second guard.
type MachineStore struct {
	db *db.DB
}

func NewMachineStore(database *db.DB) *MachineStore {
	return &MachineStore{db: database}
}

const machineColumns = `
	id, tenant_id, asset_type_id, name, ip_address, port, protocol,
	status, metadata, last_heartbeat, created_at, updated_at`

func scanMachine(row pgx.Row) (*models.Machine, error) {
	var (
		m        models.Machine
		metadata []byte
	)
	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.AssetTypeID,
		&m.Name,
		&m.IPAddress,
		&m.Port,
		&m.Protocol,
		&m.Status,
		&metadata,
		&m.LastHeartbeat,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Metadata = metadata
	return &m, nil
}

func (s *MachineStore) Create(ctx context.Context, tenantID uuid.UUID, in models.Machine) (*models.Machine, error) {
	if len(in.Metadata) == 0 {
		in.Metadata = []byte(`{}`)
	}
	if in.Status == "" {
		in.Status = models.MachineStatusOffline
	}

	query := `
		INSERT INTO machines (tenant_id, asset_type_id, name, ip_address, port, protocol, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING` + machineColumns

	var m *models.Machine
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		m, err = scanMachine(tx.QueryRow(ctx, query,
			tenantID, in.AssetTypeID, in.Name, in.IPAddress, in.Port, in.Protocol, in.Status, []byte(in.Metadata),
		))
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, repository.ErrInvalidReference
		}
		return nil, fmt.Errorf("insert machine: %w", err)
	}
	return m, nil
}

func (s *MachineStore) GetByID(ctx context.Context, tenantID, machineID uuid.UUID) (*models.Machine, error) {
	query := `SELECT` + machineColumns + ` FROM machines WHERE id = $1 AND tenant_id = $2`

	var m *models.Machine
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		m, err = scanMachine(tx.QueryRow(ctx, query, machineID, tenantID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

func (s *MachineStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Machine, error) {
	query := `
		SELECT` + machineColumns + `
		FROM machines
		WHERE tenant_id = $1
		ORDER BY created_at DESC`

	machines := make([]models.Machine, 0)
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMachine(rows)
			if err != nil {
				return fmt.Errorf("scan machine: %w", err)
			}
			machines = append(machines, *m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	return machines, nil
}

func (s *MachineStore) Delete(ctx context.Context, tenantID, machineID uuid.UUID) (bool, error) {
	var deleted bool
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM machines WHERE id = $1 AND tenant_id = $2`, machineID, tenantID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete machine: %w", err)
	}
	return deleted, nil
}

func (s *MachineStore) RecordHeartbeat(ctx context.Context, tenantID, machineID uuid.UUID, status string, payload []byte) (*models.MachineEvent, error) {
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	var ev *models.MachineEvent
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE machines
			SET status = $3, last_heartbeat = now(), updated_at = now()
			WHERE id = $1 AND tenant_id = $2`,
			machineID, tenantID, status,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		ev, err = scanMachineEvent(tx.QueryRow(ctx, `
			INSERT INTO machine_events (machine_id, kind, status, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING `+machineEventColumns,
			machineID, models.MachineEventHeartbeat, status, payload,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record heartbeat: %w", err)
	}
	return ev, nil
}
