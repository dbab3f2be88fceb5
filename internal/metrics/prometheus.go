// Package metrics exposes scan lifecycle and request measurements to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hugh/scanhub/internal/scans"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "scanhub"

	subsystemScan    = "scan"
	subsystemBackend = "backend"
	subsystemAPI     = "api"
)

// Metrics holds the collectors on a private registry. It implements
// scans.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	scansRequested *prometheus.CounterVec
	scansFinished  *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
	staleTotal     prometheus.Counter

	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ scans.Recorder = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scansRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "requested_total",
			Help:      "Scans accepted, by type.",
		},
		[]string{"scan_type"},
	)
	m.scansFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "finished_total",
			Help:      "Scans that reached a terminal status, by type, status and error kind.",
		},
		[]string{"scan_type", "status", "error_kind"},
	)
	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Time from running to a terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"scan_type", "status"},
	)
	m.staleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "stale_total",
		Help:      "Running scans failed by reconciliation.",
	})

	m.backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBackend,
			Name:      "calls_total",
			Help:      "Calls to the scanning backend, by scan type and outcome.",
		},
		[]string{"scan_type", "outcome"},
	)
	m.backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemBackend,
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to the scanning backend.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scan_type"},
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route pattern and status code.",
		},
		[]string{"method", "route", "code"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.registry.MustRegister(
		m.scansRequested,
		m.scansFinished,
		m.scanDuration,
		m.staleTotal,
		m.backendCalls,
		m.backendDuration,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ScanRequested(scanType scans.ScanType) {
	m.scansRequested.WithLabelValues(string(scanType)).Inc()
}

func (m *Metrics) ScanFinished(scanType scans.ScanType, status scans.Status, kind scans.ErrorKind, elapsed time.Duration) {
	m.scansFinished.WithLabelValues(string(scanType), string(status), string(kind)).Inc()
	if elapsed > 0 {
		m.scanDuration.WithLabelValues(string(scanType), string(status)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) BackendCall(scanType scans.ScanType, kind scans.ErrorKind, elapsed time.Duration) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	m.backendCalls.WithLabelValues(string(scanType), outcome).Inc()
	m.backendDuration.WithLabelValues(string(scanType)).Observe(elapsed.Seconds())
}

func (m *Metrics) StaleReconciled(n int) {
	m.staleTotal.Add(float64(n))
}

// ObserveHTTP records one served request. route should be the router
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
