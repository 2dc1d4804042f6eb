// Package worker runs one deployment's build end to end: clone, build,
// upload, and status reporting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Sid-Lais/cloudara/builder/internal/artifact"
	"github.com/Sid-Lais/cloudara/builder/internal/build"
	"github.com/Sid-Lais/cloudara/pkg/api/client"
)

const (
	statusInProgress = "IN_PROGRESS"
	statusReady      = "READY"
	statusFail       = "FAIL"

	maxStatusAttempts = 3
)

// LinePublisher is the worker's log outbox.
type LinePublisher interface {
	Publish(ctx context.Context, line string) error
	Flush(ctx context.Context) error
}

// StatusReporter sends status transitions to the orchestrator.
type StatusReporter interface {
	UpdateDeploymentStatus(ctx context.Context, deploymentID, status, reason string) (client.Deployment, error)
}

// Uploader stores one output file in the project's namespace.
type Uploader interface {
	Upload(ctx context.Context, projectID string, f artifact.File) error
}

// Workspace hands out the source directory.
type Workspace interface {
	Prepare(deploymentID string) (string, error)
	Release(deploymentID string) error
}

// CloneFunc fetches the repository into dest.
type CloneFunc func(ctx context.Context, repoURL, dest string) error

// BuildFunc runs a build plan and streams output lines.
type BuildFunc func(ctx context.Context, plan build.Plan, env []string, onLine func(string)) error

// Job is the environment contract of one run.
type Job struct {
	RepositoryURL string
	ProjectID     string
	DeploymentID  string
	OutputDir     string
	BuildCommand  string
}

// Timeouts bound each phase. Zero disables the bound.
type Timeouts struct {
	Clone   time.Duration
	Build   time.Duration
	Status  time.Duration
	Publish time.Duration
}

// Deps are the worker's collaborators.
type Deps struct {
	Logs      LinePublisher
	Status    StatusReporter
	Uploader  Uploader
	Workspace Workspace
	Clone     CloneFunc
	Build     BuildFunc
}

// Worker executes one job.
type Worker struct {
	job       Job
	timeouts  Timeouts
	deps      Deps
	logger    *slog.Logger
	retryWait time.Duration
}

// New constructs a worker.
func New(job Job, timeouts Timeouts, deps Deps, logger *slog.Logger) *Worker {
	if job.OutputDir == "" {
		job.OutputDir = "dist"
	}
	return &Worker{
		job:       job,
		timeouts:  timeouts,
		deps:      deps,
		logger:    logger.With("component", "worker", "deployment_id", job.DeploymentID, "project_id", job.ProjectID),
		retryWait: time.Second,
	}
}

// Run performs the build. READY is reported only after every file is
// uploaded; any failure is reported as FAIL and returned.
func (w *Worker) Run(ctx context.Context) error {
	defer w.flush(ctx)

	if err := w.report(ctx, statusInProgress, ""); err != nil {
		w.logger.Error("failed to report build start", "error", err)
		_ = w.report(ctx, statusFail, "worker could not report start: "+err.Error())
		return err
	}

	dir, err := w.deps.Workspace.Prepare(w.job.DeploymentID)
	if err != nil {
		return w.fail(ctx, fmt.Errorf("prepare workspace: %w", err))
	}
	defer func() {
		if err := w.deps.Workspace.Release(w.job.DeploymentID); err != nil {
			w.logger.Warn("workspace cleanup failed", "error", err)
		}
	}()

	cloneCtx, cancel := withTimeout(ctx, w.timeouts.Clone)
	err = w.deps.Clone(cloneCtx, w.job.RepositoryURL, dir)
	cancel()
	if err != nil {
		return w.fail(ctx, err)
	}

	w.publish(ctx, "Build Started")
	plan, err := build.Detect(dir, w.job.BuildCommand)
	if err != nil {
		return w.fail(ctx, err)
	}
	buildCtx, cancel := withTimeout(ctx, w.timeouts.Build)
	err = w.deps.Build(buildCtx, plan, []string{"CI=true"}, func(line string) {
		w.publish(ctx, line)
	})
	cancel()
	if err != nil {
		return w.fail(ctx, err)
	}
	w.publish(ctx, "Build Complete")

	w.publish(ctx, "Starting to upload")
	files, err := artifact.Collect(filepath.Join(dir, w.job.OutputDir))
	if err != nil {
		return w.fail(ctx, fmt.Errorf("%w: %w", artifact.ErrUploadFailed, err))
	}
	for _, f := range files {
		w.publish(ctx, "uploading "+f.Rel)
		if err := w.deps.Uploader.Upload(ctx, w.job.ProjectID, f); err != nil {
			return w.fail(ctx, err)
		}
		w.publish(ctx, "uploaded "+f.Rel)
	}

	if err := w.report(ctx, statusReady, ""); err != nil {
		w.logger.Error("failed to report READY", "error", err)
		_ = w.report(ctx, statusFail, "worker could not report ready: "+err.Error())
		return err
	}
	w.publish(ctx, "Done")
	w.logger.Info("deployment built", "files", len(files))
	return nil
}

// fail publishes the cause, reports FAIL and returns cause.
func (w *Worker) fail(ctx context.Context, cause error) error {
	w.logger.Error("build failed", "error", cause)
	w.publish(ctx, cause.Error())
	if err := w.report(ctx, statusFail, cause.Error()); err != nil {
		w.logger.Error("failed to report FAIL", "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

// publish never fails the build; a lost line is logged.
func (w *Worker) publish(ctx context.Context, line string) {
	if err := w.deps.Logs.Publish(ctx, line); err != nil {
		w.logger.Warn("log publish failed", "error", err)
	}
}

func (w *Worker) flush(ctx context.Context) {
	flushCtx, cancel := withTimeout(context.WithoutCancel(ctx), w.timeouts.Publish)
	defer cancel()
	if err := w.deps.Logs.Flush(flushCtx); err != nil {
		w.logger.Warn("log flush incomplete", "error", err)
	}
}

// report retries transport errors and 5xx/429 answers. Terminal reports
// outlive cancellation of ctx so a signalled worker still reports FAIL.
func (w *Worker) report(ctx context.Context, status, reason string) error {
	base := ctx
	if status != statusInProgress {
		base = context.WithoutCancel(ctx)
	}
	var lastErr error
	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		reqCtx, cancel := withTimeout(base, w.timeouts.Status)
		_, err := w.deps.Status.UpdateDeploymentStatus(reqCtx, w.job.DeploymentID, status, reason)
		cancel()
		if err == nil {
			w.logger.Info("status reported", "status", status)
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxStatusAttempts {
			break
		}
		w.logger.Warn("status report failed, retrying", "status", status, "attempt", attempt, "error", err)
		select {
		case <-base.Done():
			return errors.Join(lastErr, base.Err())
		case <-time.After(time.Duration(attempt) * w.retryWait):
		}
	}
	return fmt.Errorf("report %s: %w", status, lastErr)
}

func retryable(err error) bool {
	var apiErr client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
