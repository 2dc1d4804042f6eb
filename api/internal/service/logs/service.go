package logs

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
	"github.com/Sid-Lais/cloudara/api/internal/ws"
)

var errMissingDeploymentID = fmt.Errorf("%w: deployment id required", domain.ErrValidation)

// Service serves persisted logs and owns the live hub.
type Service struct {
	repo        repository.LogRepository
	deployments repository.DeploymentRepository
	hub         *ws.Hub
	logger      *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, deployments repository.DeploymentRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, deployments: deployments, hub: hub, logger: logger}
}

// Fetch returns a deployment's persisted lines in insertion order. A known
// deployment without lines yields an empty slice.
func (s Service) Fetch(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, errMissingDeploymentID
	}
	if _, err := s.deployments.GetDeploymentByID(ctx, deploymentID); err != nil {
		return nil, err
	}
	events, err := s.repo.ListLogsByDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.LogEvent{}
	}
	return events, nil
}

// Hub returns the live fan-out hub (used by HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}
