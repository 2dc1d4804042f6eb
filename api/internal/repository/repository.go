package repository

import (
	"context"
	"time"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
)

// ProjectRepository persists projects and their addresses.
type ProjectRepository interface {
	// CreateProject inserts the project, returning ErrConflict when the
	// subdomain or custom domain is already taken.
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error)
	GetProjectByCustomDomain(ctx context.Context, domain string) (*domain.Project, error)
	SetCustomDomain(ctx context.Context, projectID, domain string) (*domain.Project, error)
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	// TransitionDeployment applies the change only while the row still holds
	// transition.From, returning ErrStaleStatus otherwise.
	TransitionDeployment(ctx context.Context, transition domain.DeploymentTransition) (*domain.Deployment, error)
	ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error)
}

// LogRepository handles log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, event domain.LogEvent) error
	ListLogsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEvent, error)
}
