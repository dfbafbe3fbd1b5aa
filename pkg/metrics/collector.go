package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adaptive_proxy"

// Collector records proxy, routing and probing events. All methods are safe
// on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	dialAttemptsTotal *prometheus.CounterVec
	probesTotal       *prometheus.CounterVec
	probeDuration     *prometheus.HistogramVec
	probeCyclesTotal  *prometheus.CounterVec
	routeLookupsTotal *prometheus.CounterVec
}

// NewCollector registers every metric with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_connections_active",
			Help:      "Client connections currently open",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_connections_total",
			Help:      "Client connections accepted",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by kind (connect, http) and outcome",
		}, []string{"kind", "outcome"}),
		dialAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_attempts_total",
			Help:      "Upstream dial attempts by configuration and outcome",
		}, []string{"configuration", "outcome"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Completed probes by configuration and result",
		}, []string{"configuration", "result"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of a whole probe, all hits included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"configuration"}),
		probeCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_cycles_total",
			Help:      "Background route decisions by outcome (saved, abandoned, cancelled)",
		}, []string{"outcome"}),
		routeLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_lookups_total",
			Help:      "Route cache lookups by result (fresh, stale, miss)",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.requestsTotal,
		c.dialAttemptsTotal,
		c.probesTotal,
		c.probeDuration,
		c.probeCyclesTotal,
		c.routeLookupsTotal,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

func (c *Collector) RequestHandled(kind, outcome string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) DialAttempt(configuration, outcome string) {
	if c == nil {
		return
	}
	c.dialAttemptsTotal.WithLabelValues(configuration, outcome).Inc()
}

func (c *Collector) ProbeCompleted(configuration, result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.probesTotal.WithLabelValues(configuration, result).Inc()
	c.probeDuration.WithLabelValues(configuration).Observe(elapsed.Seconds())
}

func (c *Collector) ProbeCycle(outcome string) {
	if c == nil {
		return
	}
	c.probeCyclesTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RouteLookup(result string) {
	if c == nil {
		return
	}
	c.routeLookupsTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
