package denyproxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the proxy.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestsRejected *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeTunnels    prometheus.Gauge
	tunnelBytes      *prometheus.CounterVec
	tunnelErrors     prometheus.Counter
	upstreamErrors   *prometheus.CounterVec
	policyEntries    *prometheus.GaugeVec
	policyReloads    prometheus.Counter
	policyReloadErrs prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "requests_total",
			Help:      "Total number of requests processed.",
		}, []string{"method", "mode"}),

		requestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "requests_rejected_total",
			Help:      "Total number of requests that ended in an error response, by kind.",
		}, []string{"kind"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "denyproxy",
			Name:      "request_duration_seconds",
			Help:      "Time from request entry to terminal response.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"mode", "status"}),

		activeTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "denyproxy",
			Name:      "active_tunnels",
			Help:      "Number of open CONNECT tunnels.",
		}),

		tunnelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "tunnel_bytes_total",
			Help:      "Bytes relayed through CONNECT tunnels.",
		}, []string{"direction"}),

		tunnelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "tunnel_errors_total",
			Help:      "Number of tunnels abandoned after the 200 handshake.",
		}),

		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "upstream_errors_total",
			Help:      "Number of upstream transport errors on the forward path.",
		}, []string{"host"}),

		policyEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "denyproxy",
			Name:      "policy_entries",
			Help:      "Number of entries in the active policy snapshot.",
		}, []string{"list"}),

		policyReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "policy_reloads_total",
			Help:      "Number of successful policy loads.",
		}),

		policyReloadErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "denyproxy",
			Name:      "policy_reload_errors_total",
			Help:      "Number of failed policy loads.",
		}),

		registry: reg,
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestsRejected,
		m.requestDuration,
		m.activeTunnels,
		m.tunnelBytes,
		m.tunnelErrors,
		m.upstreamErrors,
		m.policyEntries,
		m.policyReloads,
		m.policyReloadErrs,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records an incoming request. mode is "tunnel" or "forward".
func (m *Metrics) RecordRequest(method, mode string) {
	m.requestsTotal.WithLabelValues(method, mode).Inc()
}

// RecordRejected records a request that ended with an error response.
func (m *Metrics) RecordRejected(kind ErrorKind) {
	m.requestsRejected.WithLabelValues(string(kind)).Inc()
}

// RecordRequestDuration records the time to the terminal response.
func (m *Metrics) RecordRequestDuration(mode string, statusCode int, duration time.Duration) {
	m.requestDuration.WithLabelValues(mode, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// IncActiveTunnels increments the open tunnel gauge.
func (m *Metrics) IncActiveTunnels() {
	m.activeTunnels.Inc()
}

// DecActiveTunnels decrements the open tunnel gauge.
func (m *Metrics) DecActiveTunnels() {
	m.activeTunnels.Dec()
}

// RecordTunnelBytes adds the byte counts of a finished tunnel.
func (m *Metrics) RecordTunnelBytes(sent, received int64) {
	m.tunnelBytes.WithLabelValues("client_to_upstream").Add(float64(sent))
	m.tunnelBytes.WithLabelValues("upstream_to_client").Add(float64(received))
}

// RecordTunnelError records a tunnel that failed after the handshake.
func (m *Metrics) RecordTunnelError() {
	m.tunnelErrors.Inc()
}

// RecordUpstreamError records an upstream transport error.
func (m *Metrics) RecordUpstreamError(host string) {
	m.upstreamErrors.WithLabelValues(host).Inc()
}

// SetPolicySize sets the entry gauges from a policy snapshot.
func (m *Metrics) SetPolicySize(p *Policy) {
	m.policyEntries.WithLabelValues("forbidden_hosts").Set(float64(len(p.forbiddenHosts)))
	m.policyEntries.WithLabelValues("banned_words").Set(float64(len(p.bannedWords)))
}

// RecordPolicyReload records a successful policy load.
func (m *Metrics) RecordPolicyReload() {
	m.policyReloads.Inc()
}

// RecordPolicyReloadError records a failed policy load.
func (m *Metrics) RecordPolicyReloadError() {
	m.policyReloadErrs.Inc()
}
