package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sid-Lais/cloudara/api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// mapLookupError treats a malformed identifier as a missing row.
func mapLookupError(err error) error {
	err = mapError(err)
	if errors.Is(err, repository.ErrInvalidArgument) {
		return repository.ErrNotFound
	}
	return err
}
