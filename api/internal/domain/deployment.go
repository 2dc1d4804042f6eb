package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

const (
	StatusQueued     DeploymentStatus = "QUEUED"
	StatusInProgress DeploymentStatus = "IN_PROGRESS"
	StatusReady      DeploymentStatus = "READY"
	StatusFail       DeploymentStatus = "FAIL"
)

// ParseDeploymentStatus normalises raw input into a known status.
func ParseDeploymentStatus(raw string) (DeploymentStatus, error) {
	status := DeploymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusQueued, StatusInProgress, StatusReady, StatusFail:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown deployment status %q", ErrValidation, raw)
}

// Terminal reports whether no further transition is accepted.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusReady || s == StatusFail
}

// CanTransition reports whether moving from s to next is a forward step.
// QUEUED may jump straight to FAIL when the job never launches.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusInProgress || next == StatusFail
	case StatusInProgress:
		return next == StatusReady || next == StatusFail
	default:
		return false
	}
}

// Deployment captures a single build-and-publish attempt of a project.
type Deployment struct {
	ID        string
	ProjectID string
	Status    DeploymentStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeploymentTransition is a compare-and-set status change.
type DeploymentTransition struct {
	DeploymentID string
	From         DeploymentStatus
	To           DeploymentStatus
	Reason       string
}
