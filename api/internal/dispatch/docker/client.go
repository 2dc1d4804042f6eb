// Package docker launches build jobs as one-shot containers on a Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
)

const (
	backendName     = "docker"
	deploymentLabel = "cloudara.dev/deployment-id"
	projectLabel    = "cloudara.dev/project-id"
)

// Options configures the container each job runs in.
type Options struct {
	Image   string
	Network string
}

// Launcher wraps the Docker SDK client.
type Launcher struct {
	inner  *client.Client
	opts   Options
	logger *slog.Logger
}

// New creates a Docker launcher using environment defaults.
func New(host string, opts Options, logger *slog.Logger) (*Launcher, error) {
	if strings.TrimSpace(opts.Image) == "" {
		return nil, fmt.Errorf("builder image required")
	}
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{inner: inner, opts: opts, logger: logger.With("component", "docker_launcher")}, nil
}

// Ping validates connectivity to the Docker daemon.
func (l *Launcher) Ping(ctx context.Context) error {
	if l == nil || l.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := l.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (l *Launcher) Close() error {
	if l == nil || l.inner == nil {
		return nil
	}
	return l.inner.Close()
}

// Launch creates and starts the build container. The daemon removes it on exit.
func (l *Launcher) Launch(ctx context.Context, job dispatch.Job) (dispatch.JobHandle, error) {
	config, hostCfg := containerSpec(l.opts, job)

	created, err := l.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, job.Name)
	if errdefs.IsNotFound(err) {
		if pullErr := l.pull(ctx, config.Image); pullErr != nil {
			return dispatch.JobHandle{}, pullErr
		}
		created, err = l.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, job.Name)
	}
	if err != nil {
		return dispatch.JobHandle{}, fmt.Errorf("create build container: %w", err)
	}
	if err := l.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = l.inner.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return dispatch.JobHandle{}, fmt.Errorf("start build container: %w", err)
	}
	for _, warning := range created.Warnings {
		l.logger.Warn("docker create warning", "container_id", created.ID, "warning", warning)
	}
	return dispatch.JobHandle{ID: created.ID, Backend: backendName}, nil
}

func (l *Launcher) pull(ctx context.Context, ref string) error {
	l.logger.Info("pulling builder image", "image", ref)
	rc, err := l.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull builder image: %w", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull builder image: %w", err)
	}
	return nil
}

func containerSpec(opts Options, job dispatch.Job) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image: opts.Image,
		Env:   dispatch.Environ(job.Env),
		Labels: map[string]string{
			deploymentLabel: job.Env[dispatch.EnvDeploymentID],
			projectLabel:    job.Env[dispatch.EnvProjectID],
		},
	}
	hostCfg := &container.HostConfig{
		AutoRemove: true,
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}
	if network := strings.TrimSpace(opts.Network); network != "" {
		hostCfg.NetworkMode = container.NetworkMode(network)
	}
	return config, hostCfg
}
