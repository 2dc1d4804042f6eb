package domain

import "time"

// Project describes a deployable source repository and its public address.
type Project struct {
	ID           string
	Name         string
	SourceURL    string
	Subdomain    string
	CustomDomain string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectSummary is a project with its most recent deployment, if any.
type ProjectSummary struct {
	Project          Project
	LatestDeployment *Deployment
}
