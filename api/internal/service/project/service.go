package project

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
	"github.com/Sid-Lais/cloudara/api/internal/slug"
)

const (
	maxNameLength = 100
	// maxSlugAttempts bounds retries when a generated subdomain is taken.
	maxSlugAttempts = 8
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name      string
	SourceURL string
}

// Service orchestrates project management.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	slugs       slug.Generator
	logger      *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, slugs slug.Generator, logger *slog.Logger) Service {
	if slugs == nil {
		slugs = slug.Random{}
	}
	return Service{projects: projects, deployments: deployments, slugs: slugs, logger: logger}
}

var (
	errInvalidProjectName = fmt.Errorf("%w: project name is required", domain.ErrValidation)
	errProjectNameTooLong = fmt.Errorf("%w: project name must be at most %d characters", domain.ErrValidation, maxNameLength)
	errInvalidSourceURL   = fmt.Errorf("%w: source URL must be an http(s), ssh or git repository URL", domain.ErrValidation)
	errInvalidDomain      = fmt.Errorf("%w: domain must be a valid hostname", domain.ErrValidation)
	errMissingProjectID   = fmt.Errorf("%w: project id required", domain.ErrValidation)
	errMissingSubdomain   = fmt.Errorf("%w: subdomain required", domain.ErrValidation)

	// ErrSubdomainExhausted is returned when every generated subdomain collided.
	ErrSubdomainExhausted = errors.New("could not allocate a unique subdomain")
)

var (
	scpLikeURL = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._/~-]+$`)
	hostname   = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
)

func validSourceURL(raw string) bool {
	if scpLikeURL.MatchString(raw) {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return true
	}
	return false
}

// Create registers a new project under a freshly generated subdomain.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errInvalidProjectName
	}
	if len([]rune(name)) > maxNameLength {
		return nil, errProjectNameTooLong
	}
	sourceURL := strings.TrimSpace(input.SourceURL)
	if !validSourceURL(sourceURL) {
		return nil, errInvalidSourceURL
	}

	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		now := time.Now().UTC()
		project := &domain.Project{
			ID:        uuid.NewString(),
			Name:      name,
			SourceURL: sourceURL,
			Subdomain: s.slugs.Next(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.projects.CreateProject(ctx, project)
		if err == nil {
			s.logger.Info("project created", "project_id", project.ID, "subdomain", project.Subdomain)
			return project, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		s.logger.Debug("subdomain collision, retrying", "subdomain", project.Subdomain, "attempt", attempt)
	}
	return nil, ErrSubdomainExhausted
}

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// Resolve maps a subdomain to its project.
func (s Service) Resolve(ctx context.Context, subdomain string) (*domain.Project, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" {
		return nil, errMissingSubdomain
	}
	return s.projects.GetProjectBySubdomain(ctx, subdomain)
}

// ResolveDomain maps a custom domain to its project.
func (s Service) ResolveDomain(ctx context.Context, host string) (*domain.Project, error) {
	host = normaliseDomain(host)
	if !hostname.MatchString(host) {
		return nil, repository.ErrNotFound
	}
	return s.projects.GetProjectByCustomDomain(ctx, host)
}

// Lookup returns the project behind a subdomain with its latest deployment.
func (s Service) Lookup(ctx context.Context, subdomain string) (*domain.ProjectSummary, error) {
	project, err := s.Resolve(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	summary := &domain.ProjectSummary{Project: *project}
	latest, err := s.deployments.GetLatestDeployment(ctx, project.ID)
	switch {
	case err == nil:
		summary.LatestDeployment = latest
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, err
	}
	return summary, nil
}

// AttachCustomDomain binds a user-chosen hostname to a project.
func (s Service) AttachCustomDomain(ctx context.Context, projectID, host string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	host = normaliseDomain(host)
	if !hostname.MatchString(host) {
		return nil, errInvalidDomain
	}
	project, err := s.projects.SetCustomDomain(ctx, projectID, host)
	if err != nil {
		return nil, err
	}
	s.logger.Info("custom domain attached", "project_id", project.ID, "domain", host)
	return project, nil
}

func normaliseDomain(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
