package postgres

import (
	"context"
	"database/sql"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
)

const projectColumns = `id, name, source_url, subdomain, custom_domain, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var customDomain sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.SourceURL, &p.Subdomain, &customDomain, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CustomDomain = customDomain.String
	return &p, nil
}

// CreateProject inserts a project record.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, source_url, subdomain, custom_domain, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.Name,
		project.SourceURL,
		project.Subdomain,
		emptyToNil(project.CustomDomain),
		project.CreatedAt,
		project.UpdatedAt,
	)
	return mapError(err)
}

// GetProjectByID fetches a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		return nil, mapLookupError(err)
	}
	return p, nil
}

// GetProjectBySubdomain fetches the project owning a generated subdomain.
func (r *Repository) GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE subdomain = $1`
	p, err := scanProject(r.pool.QueryRow(ctx, query, subdomain))
	if err != nil {
		return nil, mapLookupError(err)
	}
	return p, nil
}

// GetProjectByCustomDomain fetches the project owning a custom domain.
func (r *Repository) GetProjectByCustomDomain(ctx context.Context, customDomain string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE custom_domain = $1`
	p, err := scanProject(r.pool.QueryRow(ctx, query, customDomain))
	if err != nil {
		return nil, mapLookupError(err)
	}
	return p, nil
}

// SetCustomDomain attaches a custom domain to a project.
func (r *Repository) SetCustomDomain(ctx context.Context, projectID, customDomain string) (*domain.Project, error) {
	const query = `UPDATE projects SET custom_domain = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + projectColumns
	p, err := scanProject(r.pool.QueryRow(ctx, query, projectID, customDomain))
	if err != nil {
		return nil, mapLookupError(err)
	}
	return p, nil
}
