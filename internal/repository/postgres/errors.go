package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lalith-99/tenantgate/internal/repository"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, foreignKeyViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
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
