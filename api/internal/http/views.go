package httpx

import (
	"time"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
)

type projectView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	GitURL       string    `json:"gitURL"`
	Subdomain    string    `json:"subdomain"`
	CustomDomain string    `json:"customDomain,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newProjectView(p *domain.Project) projectView {
	return projectView{
		ID:           p.ID,
		Name:         p.Name,
		GitURL:       p.SourceURL,
		Subdomain:    p.Subdomain,
		CustomDomain: p.CustomDomain,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
}

type projectSummaryView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Subdomain        string          `json:"subdomain"`
	LatestDeployment *deploymentView `json:"latestDeployment"`
}

func newProjectSummaryView(s *domain.ProjectSummary) projectSummaryView {
	view := projectSummaryView{ID: s.Project.ID, Name: s.Project.Name, Subdomain: s.Project.Subdomain}
	if s.LatestDeployment != nil {
		latest := newDeploymentView(s.LatestDeployment)
		view.LatestDeployment = &latest
	}
	return view
}

type lookupView struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

type deploymentView struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newDeploymentView(d *domain.Deployment) deploymentView {
	return deploymentView{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Status:    string(d.Status),
		Reason:    d.Reason,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type logView struct {
	EventID      string    `json:"event_id"`
	DeploymentID string    `json:"deployment_id"`
	Log          string    `json:"log"`
	Timestamp    time.Time `json:"timestamp"`
}

func newLogView(e domain.LogEvent) logView {
	return logView{
		EventID:      e.EventID,
		DeploymentID: e.DeploymentID,
		Log:          e.Message,
		Timestamp:    e.Timestamp.UTC(),
	}
}
