package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Sid-Lais/cloudara/builder/internal/artifact"
	"github.com/Sid-Lais/cloudara/builder/internal/build"
	"github.com/Sid-Lais/cloudara/builder/internal/git"
	"github.com/Sid-Lais/cloudara/builder/internal/worker"
	"github.com/Sid-Lais/cloudara/builder/internal/workspace"
	"github.com/Sid-Lais/cloudara/pkg/api/client"
	"github.com/Sid-Lais/cloudara/pkg/config"
	"github.com/Sid-Lais/cloudara/pkg/logchannel"
	"github.com/Sid-Lais/cloudara/pkg/logger"
)

func main() {
	cfg, err := config.LoadBuilderConfig()
	if err != nil {
		logger.New("builder", slog.LevelInfo).Error("invalid job environment", "error", err)
		os.Exit(2)
	}
	log := logger.New("builder", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := client.New(cfg.APIURL, client.WithTimeout(cfg.StatusTimeout))
	if err != nil {
		log.Error("invalid api url", "error", err)
		os.Exit(1)
	}

	channel, err := logchannel.Connect(cfg.NatsURL, logchannel.Options{
		Name:       "cloudara-builder-" + cfg.DeploymentID,
		MaxPending: cfg.OutboxMaxPending,
		Logger:     log,
	})
	if err != nil {
		log.Error("failed to connect to log channel", "error", err)
		abort(ctx, api, cfg.DeploymentID, "log channel unavailable", log)
		os.Exit(1)
	}
	defer channel.Close()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Error("failed to configure artifact store", "backend", cfg.ArtifactBackend, "error", err)
		abort(ctx, api, cfg.DeploymentID, "artifact store unavailable", log)
		os.Exit(1)
	}

	ws, err := openWorkspace(ctx, cfg, api, log)
	if err != nil {
		os.Exit(1)
	}

	w := worker.New(worker.Job{
		RepositoryURL: cfg.RepositoryURL,
		ProjectID:     cfg.ProjectID,
		DeploymentID:  cfg.DeploymentID,
		OutputDir:     cfg.OutputDir,
		BuildCommand:  cfg.BuildCommand,
	}, worker.Timeouts{
		Clone:   cfg.GitTimeout,
		Build:   cfg.BuildTimeout,
		Status:  cfg.StatusTimeout,
		Publish: cfg.PublishTimeout,
	}, worker.Deps{
		Logs:      logchannel.NewPublisher(channel.JetStream(), cfg.ProjectID, cfg.DeploymentID),
		Status:    api,
		Uploader:  artifact.NewUploader(store, cfg.ArtifactPrefix),
		Workspace: ws,
		Clone:     git.Clone,
		Build:     build.Run,
	}, log)

	if err := w.Run(ctx); err != nil {
		os.Exit(1)
	}
}

// abort reports FAIL for a job that could not start. The deployment stays
// QUEUED only if this report is lost too.
func abort(ctx context.Context, api worker.StatusReporter, deploymentID, reason string, log *slog.Logger) {
	if _, err := api.UpdateDeploymentStatus(context.WithoutCancel(ctx), deploymentID, "FAIL", reason); err != nil {
		log.Error("failed to report startup failure", "reason", reason, "error", err)
	}
}

func openWorkspace(ctx context.Context, cfg config.BuilderConfig, api worker.StatusReporter, log *slog.Logger) (*workspace.Manager, error) {
	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		abort(ctx, api, cfg.DeploymentID, "workspace unavailable", log)
		return nil, err
	}
	return ws, nil
}

func newStore(ctx context.Context, cfg config.BuilderConfig) (artifact.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ArtifactBackend)) {
	case "", "s3":
		return artifact.NewS3Store(ctx, artifact.S3Options{
			Bucket:   cfg.ArtifactBucket,
			Region:   cfg.ArtifactRegion,
			Endpoint: cfg.ArtifactEndpoint,
		})
	case "minio":
		return artifact.NewMinioStore(artifact.MinioOptions{
			Endpoint:  cfg.ArtifactEndpoint,
			Bucket:    cfg.ArtifactBucket,
			Region:    cfg.ArtifactRegion,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}
