package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/tenantgate/internal/db"
	"github.com/lalith-99/tenantgate/internal/models"
)

// MachineEventStore reads the machine_events child table. The table has
// no tenant column; its policy admits only rows whose machine is visible
// under the bound tenant.
type MachineEventStore struct {
	db *db.DB
}

func NewMachineEventStore(database *db.DB) *MachineEventStore {
	return &MachineEventStore{db: database}
}

const machineEventColumns = `id, machine_id, kind, status, payload, created_at`

func scanMachineEvent(row pgx.Row) (*models.MachineEvent, error) {
	var (
		ev      models.MachineEvent
		payload []byte
	)
	if err := row.Scan(&ev.ID, &ev.MachineID, &ev.Kind, &ev.Status, &payload, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}

func (s *MachineEventStore) ListByMachine(ctx context.Context, tenantID, machineID uuid.UUID, before int64, limit int) ([]models.MachineEvent, error) {
	var (
		query string
		args  []any
	)
	if before > 0 {
		query = `
			SELECT ` + machineEventColumns + `
			FROM machine_events
			WHERE machine_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{machineID, before, limit}
	} else {
		query = `
			SELECT ` + machineEventColumns + `
			FROM machine_events
			WHERE machine_id = $1
			ORDER BY id DESC
			LIMIT $2`
		args = []any{machineID, limit}
	}

	events := make([]models.MachineEvent, 0)
	err := s.db.WithTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := scanMachineEvent(rows)
			if err != nil {
				return fmt.Errorf("scan machine event: %w", err)
			}
			events = append(events, *ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list machine events: %w", err)
	}
	return events, nil
}
