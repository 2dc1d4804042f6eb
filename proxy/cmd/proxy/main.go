package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Sid-Lais/cloudara/pkg/api/client"
	"github.com/Sid-Lais/cloudara/pkg/config"
	"github.com/Sid-Lais/cloudara/pkg/logger"
	"github.com/Sid-Lais/cloudara/proxy/internal/proxy"
	"github.com/Sid-Lais/cloudara/proxy/internal/resolver"
)

func main() {
	cfg, err := config.LoadProxyConfig()
	if err != nil {
		logger.New("proxy", slog.LevelInfo).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions("proxy", logger.ParseLevel(cfg.LogLevel), logger.Options{File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := proxy.NewMetrics(reg)

	api, err := client.New(cfg.APIURL, client.WithTimeout(cfg.LookupTimeout))
	if err != nil {
		log.Error("failed to configure api client", "error", err)
		os.Exit(1)
	}
	res := resolver.New(api, resolver.Options{
		TTL:        cfg.CacheTTL,
		Timeout:    cfg.LookupTimeout,
		BaseDomain: cfg.BaseDomain,
		Observer:   metrics,
	}, log)

	handler, err := proxy.New(res, cfg.ArtifactBaseURL, proxy.Options{
		UpstreamTimeout: cfg.UpstreamTimeout,
		Metrics:         metrics,
	}, log)
	if err != nil {
		log.Error("failed to configure proxy", "error", err)
		os.Exit(1)
	}

	admin := http.NewServeMux()
	admin.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	admin.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	servers := []*http.Server{
		{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.AdminAddr, Handler: admin, ReadHeaderTimeout: 5 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(cfg.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				log.Debug("resolver cache swept", "entries", res.Sweep())
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("proxy stopped", "error", err)
		os.Exit(1)
	}
}
