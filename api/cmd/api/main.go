package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sid-Lais/cloudara/api/internal/app/migrate"
	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
	"github.com/Sid-Lais/cloudara/api/internal/dispatch/docker"
	"github.com/Sid-Lais/cloudara/api/internal/dispatch/kubernetes"
	httpx "github.com/Sid-Lais/cloudara/api/internal/http"
	"github.com/Sid-Lais/cloudara/api/internal/repository/postgres"
	"github.com/Sid-Lais/cloudara/api/internal/service/deploy"
	"github.com/Sid-Lais/cloudara/api/internal/service/logs"
	"github.com/Sid-Lais/cloudara/api/internal/service/project"
	"github.com/Sid-Lais/cloudara/api/internal/service/watchdog"
	"github.com/Sid-Lais/cloudara/api/internal/slug"
	"github.com/Sid-Lais/cloudara/api/internal/ws"
	"github.com/Sid-Lais/cloudara/pkg/config"
	"github.com/Sid-Lais/cloudara/pkg/logchannel"
	"github.com/Sid-Lais/cloudara/pkg/logger"
)

const logAckWait = 30 * time.Second

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		logger.New("api", slog.LevelInfo).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions("api", logger.ParseLevel(cfg.LogLevel), logger.Options{File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	natsURL := cfg.NatsURL
	if cfg.NatsEmbedded {
		embedded, err := logchannel.StartEmbedded(logchannel.EmbeddedConfig{StoreDir: cfg.NatsStoreDir, Logger: log})
		if err != nil {
			log.Error("failed to start embedded NATS", "error", err)
			os.Exit(1)
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
	}
	channel, err := logchannel.Connect(natsURL, logchannel.Options{Name: "cloudara-api", Logger: log})
	if err != nil {
		log.Error("failed to connect to log channel", "error", err)
		os.Exit(1)
	}
	defer channel.Close()
	if _, err := channel.EnsureStream(ctx, cfg.LogRetention); err != nil {
		log.Error("failed to ensure log stream", "error", err)
		os.Exit(1)
	}
	durable, err := channel.DurableConsumer(ctx, logAckWait)
	if err != nil {
		log.Error("failed to create log persister consumer", "error", err)
		os.Exit(1)
	}
	live, err := channel.LiveConsumer(ctx)
	if err != nil {
		log.Error("failed to create live log consumer", "error", err)
		os.Exit(1)
	}

	launcher, closeLauncher, err := newLauncher(cfg, log)
	if err != nil {
		log.Error("failed to configure build dispatcher", "backend", cfg.DispatchBackend, "error", err)
		os.Exit(1)
	}
	defer closeLauncher()

	repo := postgres.New(pool)
	hub := ws.NewHub()
	defer hub.Close()

	dispatcher := dispatch.New(launcher, dispatch.Options{
		Timeout:   cfg.DispatchTimeout,
		Rate:      cfg.DispatchRate,
		Burst:     cfg.DispatchBurst,
		WorkerEnv: cfg.WorkerEnv,
	}, log)
	projectSvc := project.New(repo, repo, slug.Random{}, log)
	deploySvc := deploy.New(repo, repo, dispatcher, log)
	logSvc := logs.New(repo, repo, hub, log)

	persister := logs.NewPersister(durable, repo, logs.PersisterOptions{
		Batch:          cfg.LogFetchBatch,
		WriteTimeout:   cfg.LogWriteTimeout,
		RedeliverDelay: cfg.LogRedeliverDelay,
	}, log)
	go persister.Run(ctx)

	streamer := logs.NewStreamer(live, hub, log)
	go func() {
		if err := streamer.Run(ctx); err != nil {
			log.Error("live log streamer failed", "error", err)
		}
	}()

	router := httpx.NewRouter(log, projectSvc, deploySvc, logSvc, httpx.Options{
		Limiter:      newLimiter(cfg, log),
		CORSOrigins:  cfg.CORSOrigins,
		WSSendBuffer: cfg.WSSendBuffer,
		StuckAfter:   cfg.StuckAfter,
		Checks: map[string]httpx.HealthCheck{
			"database": pool.Ping,
			"nats":     channel.Ping,
		},
	})
	defer router.Close()

	if dog := watchdog.New(deploySvc, router.StuckGauge(), cfg.StuckInterval, cfg.StuckAfter, log); dog != nil {
		go dog.Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "dispatch_backend", cfg.DispatchBackend)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func newLauncher(cfg config.APIConfig, log *slog.Logger) (dispatch.Launcher, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DispatchBackend)) {
	case "", "docker":
		l, err := docker.New(cfg.DockerHost, docker.Options{Image: cfg.BuilderImage, Network: cfg.BuilderNetwork}, log)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	case "kubernetes", "k8s":
		l, err := kubernetes.New(kubernetes.Options{Namespace: cfg.K8sNamespace, Image: cfg.BuilderImage, TTL: cfg.K8sJobTTL}, log)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown dispatch backend %q", cfg.DispatchBackend)
	}
}

func newLimiter(cfg config.APIConfig, log *slog.Logger) httpx.RateLimiter {
	addr := strings.TrimSpace(cfg.RateLimitRedisAddr)
	if addr == "" {
		return httpx.NewMemoryRateLimiter()
	}
	limiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
	if err != nil {
		log.Warn("redis rate limiter unavailable, using memory limiter", "error", err)
		return httpx.NewMemoryRateLimiter()
	}
	return limiter
}
