package proxy

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache, lookup and forward outcomes. It satisfies
// resolver.Observer.
type Metrics struct {
	cache    *prometheus.CounterVec
	lookups  *prometheus.CounterVec
	forwards *prometheus.CounterVec
}

// NewMetrics registers the proxy collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudara",
			Subsystem: "proxy",
			Name:      "cache_requests_total",
			Help:      "Resolver cache lookups by result",
		}, []string{"result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudara",
			Subsystem: "proxy",
			Name:      "project_lookups_total",
			Help:      "Orchestrator project lookups by outcome",
		}, []string{"outcome"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudara",
			Subsystem: "proxy",
			Name:      "forwards_total",
			Help:      "Proxied responses by status class",
		}, []string{"class"}),
	}
	m.cache = register(reg, m.cache)
	m.lookups = register(reg, m.lookups)
	m.forwards = register(reg, m.forwards)
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

func (m *Metrics) CacheHit()  { m.cache.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.cache.WithLabelValues("miss").Inc() }

func (m *Metrics) Lookup(outcome string) { m.lookups.WithLabelValues(outcome).Inc() }

func (m *Metrics) forward(status int) {
	class := "error"
	if status >= 100 && status < 600 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.forwards.WithLabelValues(class).Inc()
}
