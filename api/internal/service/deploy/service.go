package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
)

// maxTransitionAttempts bounds compare-and-set retries when concurrent
// reports race on the same deployment.
const maxTransitionAttempts = 3

var (
	errMissingProjectID    = fmt.Errorf("%w: project id required", domain.ErrValidation)
	errMissingDeploymentID = fmt.Errorf("%w: deployment id required", domain.ErrValidation)
)

// Dispatcher launches the build job for a freshly queued deployment.
type Dispatcher interface {
	Dispatch(ctx context.Context, project domain.Project, deployment domain.Deployment) (dispatch.JobHandle, error)
}

// Service owns the deployment lifecycle.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	dispatcher  Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

// New returns a deployment service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, dispatcher Dispatcher, logger *slog.Logger) Service {
	return Service{
		projects:    projects,
		deployments: deployments,
		dispatcher:  dispatcher,
		logger:      logger,
		now:         time.Now,
	}
}

// Deploy queues a deployment and launches its build without waiting for it.
// When the launch fails the deployment is returned in FAIL together with an
// error wrapping dispatch.ErrDispatch.
func (s Service) Deploy(ctx context.Context, projectID string) (*domain.Deployment, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}

	// Launch is bounded by the dispatcher's own timeout, not by the caller.
	if _, err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), *project, *deployment); err != nil {
		s.logger.Error("build dispatch failed", "deployment_id", deployment.ID, "project_id", project.ID, "error", err)
		// The caller may have gone away; the FAIL write must still land.
		failed, failErr := s.deployments.TransitionDeployment(context.WithoutCancel(ctx), domain.DeploymentTransition{
			DeploymentID: deployment.ID,
			From:         domain.StatusQueued,
			To:           domain.StatusFail,
			Reason:       err.Error(),
		})
		if failErr != nil {
			s.logger.Error("failed to record dispatch failure", "deployment_id", deployment.ID, "error", failErr)
			return deployment, errors.Join(err, failErr)
		}
		return failed, err
	}

	s.logger.Info("deployment queued", "deployment_id", deployment.ID, "project_id", project.ID)
	return deployment, nil
}

// Get returns a deployment by identifier.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, errMissingDeploymentID
	}
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// UpdateStatus moves a deployment forward. Re-applying the current status is
// a no-op and a backwards or terminal move fails with domain.ErrInvalidTransition.
func (s Service) UpdateStatus(ctx context.Context, deploymentID, rawStatus, reason string) (*domain.Deployment, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, errMissingDeploymentID
	}
	target, err := domain.ParseDeploymentStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	if target != domain.StatusFail {
		reason = ""
	}

	for attempt := 1; ; attempt++ {
		current, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
		if err != nil {
			return nil, err
		}
		if current.Status == target {
			return current, nil
		}
		if !current.Status.CanTransition(target) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, target)
		}

		updated, err := s.deployments.TransitionDeployment(ctx, domain.DeploymentTransition{
			DeploymentID: deploymentID,
			From:         current.Status,
			To:           target,
			Reason:       strings.TrimSpace(reason),
		})
		if err == nil {
			s.logger.Info("deployment status updated", "deployment_id", deploymentID, "from", current.Status, "to", target)
			return updated, nil
		}
		if !errors.Is(err, repository.ErrStaleStatus) || attempt >= maxTransitionAttempts {
			return nil, err
		}
	}
}

// Stuck lists deployments still QUEUED after olderThan.
func (s Service) Stuck(ctx context.Context, olderThan time.Duration) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsWithStatusUpdatedBefore(ctx, domain.StatusQueued, s.now().Add(-olderThan))
}
