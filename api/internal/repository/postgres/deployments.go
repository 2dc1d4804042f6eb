package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
)

const deploymentColumns = `id, project_id, status, reason, created_at, updated_at`

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.Reason, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.Status,
		deployment.Reason,
		deployment.CreatedAt,
		deployment.UpdatedAt,
	)
	return mapError(err)
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
	if err != nil {
		return nil, mapLookupError(err)
	}
	return d, nil
}

// GetLatestDeployment returns the most recently created deployment of a project.
func (r *Repository) GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		return nil, mapLookupError(err)
	}
	return d, nil
}

// TransitionDeployment moves a deployment between statuses atomically.
func (r *Repository) TransitionDeployment(ctx context.Context, transition domain.DeploymentTransition) (*domain.Deployment, error) {
	const query = `UPDATE deployments
		SET status = $3,
			reason = COALESCE($4, reason),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + deploymentColumns
	d, err := scanDeployment(r.pool.QueryRow(ctx, query,
		transition.DeploymentID,
		transition.From,
		transition.To,
		emptyToNil(transition.Reason),
	))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapLookupError(err)
	}
	// No row matched: either the deployment is gone or its status moved on.
	if _, getErr := r.GetDeploymentByID(ctx, transition.DeploymentID); getErr != nil {
		return nil, getErr
	}
	return nil, repository.ErrStaleStatus
}

// ListDeploymentsWithStatusUpdatedBefore returns deployments sitting in a status since before a cutoff.
func (r *Repository) ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`
	rows, err := r.pool.Query(ctx, query, status, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}
