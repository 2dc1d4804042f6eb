package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// metrics groups the API collectors. Registration tolerates a collector
// already registered by an earlier Router in the same process.
type metrics struct {
	requestTotal     *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	rateLimitHits    *prometheus.CounterVec
	stuckDeployments prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudara",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cloudara",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudara",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"}),
		stuckDeployments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudara",
			Subsystem: "api",
			Name:      "stuck_deployments",
			Help:      "Deployments still queued past the stuck threshold",
		}),
	}
	m.requestTotal = register(reg, m.requestTotal)
	m.requestLatency = register(reg, m.requestLatency)
	m.rateLimitHits = register(reg, m.rateLimitHits)
	m.stuckDeployments = register(reg, m.stuckDeployments)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.metrics.requestTotal.With(labels).Inc()
	r.metrics.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	r.metrics.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

// StuckGauge is set by the stuck-deployment watchdog.
func (r *Router) StuckGauge() prometheus.Gauge {
	return r.metrics.stuckDeployments
}
