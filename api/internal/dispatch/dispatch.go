// Package dispatch launches one isolated build job per deployment.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
)

// Environment keys every build job receives.
const (
	EnvRepositoryURL = "GIT_REPOSITORY__URL"
	EnvProjectID     = "PROJECT_ID"
	EnvDeploymentID  = "DEPLOYEMENT_ID"
)

// ErrDispatch marks a job that could not be launched.
var ErrDispatch = errors.New("dispatch failed")

// Job is a launch request for one deployment.
type Job struct {
	// Name is a stable, substrate-safe identifier derived from the deployment.
	Name string
	Env  map[string]string
}

// JobHandle identifies a launched job on its substrate.
type JobHandle struct {
	ID      string
	Backend string
}

// Launcher starts a job and returns without waiting for it to finish.
type Launcher interface {
	Launch(ctx context.Context, job Job) (JobHandle, error)
}

// Options tunes dispatch timeouts and throttling.
type Options struct {
	Timeout   time.Duration
	Rate      float64
	Burst     int
	WorkerEnv map[string]string
}

// Dispatcher wraps a Launcher with the job contract, a timeout and a rate limit.
type Dispatcher struct {
	launcher  Launcher
	limiter   *rate.Limiter
	timeout   time.Duration
	workerEnv map[string]string
	logger    *slog.Logger
}

// New constructs a Dispatcher.
func New(launcher Launcher, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		launcher:  launcher,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		timeout:   opts.Timeout,
		workerEnv: maps.Clone(opts.WorkerEnv),
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch launches exactly one build job for the deployment.
func (d *Dispatcher) Dispatch(ctx context.Context, project domain.Project, deployment domain.Deployment) (JobHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		return JobHandle{}, fmt.Errorf("%w: launch quota: %v", ErrDispatch, err)
	}

	job := Job{
		Name: JobName(deployment.ID),
		Env:  d.jobEnv(project, deployment),
	}
	handle, err := d.launcher.Launch(ctx, job)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return JobHandle{}, fmt.Errorf("%w: launch timed out after %s", ErrDispatch, d.timeout)
		}
		return JobHandle{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	d.logger.Info("build job launched", "deployment_id", deployment.ID, "project_id", project.ID, "job_id", handle.ID, "backend", handle.Backend)
	return handle, nil
}

func (d *Dispatcher) jobEnv(project domain.Project, deployment domain.Deployment) map[string]string {
	env := make(map[string]string, len(d.workerEnv)+3)
	maps.Copy(env, d.workerEnv)
	env[EnvRepositoryURL] = project.SourceURL
	env[EnvProjectID] = project.ID
	env[EnvDeploymentID] = deployment.ID
	return env
}

// JobName derives a lowercase DNS-label-safe name from a deployment id.
func JobName(deploymentID string) string {
	var b strings.Builder
	b.WriteString("build-")
	for _, r := range strings.ToLower(deploymentID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.TrimRight(name, "-")
}

// Environ flattens env into KEY=VALUE pairs sorted by key.
func Environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
