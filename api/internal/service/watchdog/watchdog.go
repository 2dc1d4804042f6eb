// Package watchdog surfaces deployments that were queued but never picked
// up by a worker. It reports them and never retries or fails them.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
)

const (
	defaultInterval = time.Minute
	defaultAfter    = 10 * time.Minute
	scanTimeout     = 15 * time.Second
)

// StuckLister lists deployments still QUEUED after a threshold.
type StuckLister interface {
	Stuck(ctx context.Context, olderThan time.Duration) ([]domain.Deployment, error)
}

// Gauge receives the current stuck count.
type Gauge interface {
	Set(float64)
}

// Watchdog periodically scans for stuck deployments.
type Watchdog struct {
	lister   StuckLister
	gauge    Gauge
	logger   *slog.Logger
	interval time.Duration
	after    time.Duration

	// reported holds ids already logged so each one warns once.
	reported map[string]struct{}
}

// New constructs a watchdog. It returns nil when lister is nil.
func New(lister StuckLister, gauge Gauge, interval, after time.Duration, logger *slog.Logger) *Watchdog {
	if lister == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if after <= 0 {
		after = defaultAfter
	}
	return &Watchdog{
		lister:   lister,
		gauge:    gauge,
		logger:   logger.With("component", "watchdog"),
		interval: interval,
		after:    after,
		reported: make(map[string]struct{}),
	}
}

// Run scans until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started", "interval", w.interval, "after", w.after)
	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watchdog) scan(parent context.Context) {
	timeout := scanTimeout
	if w.interval < timeout {
		timeout = w.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	stuck, err := w.lister.Stuck(ctx, w.after)
	if err != nil {
		w.logger.Error("stuck deployment scan failed", "error", err)
		return
	}
	if w.gauge != nil {
		w.gauge.Set(float64(len(stuck)))
	}

	current := make(map[string]struct{}, len(stuck))
	for _, d := range stuck {
		current[d.ID] = struct{}{}
		if _, seen := w.reported[d.ID]; seen {
			continue
		}
		w.logger.Warn("deployment stuck in queue",
			"deployment_id", d.ID,
			"project_id", d.ProjectID,
			"queued_for", time.Since(d.UpdatedAt).Round(time.Second).String(),
		)
	}
	w.reported = current
}
