package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	remoteRequestsTotal  *prometheus.CounterVec
	remoteDuration       *prometheus.HistogramVec
	retriesTotal         *prometheus.CounterVec
	remoteCleanupDeletes *prometheus.CounterVec
	expiredFilesTotal    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascribe_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediascribe_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"route", "method", "status"},
		),
		remoteRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascribe_remote_requests_total",
				Help: "Total calls to the remote inference API.",
			},
			[]string{"operation", "status"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediascribe_remote_request_duration_seconds",
				Help:    "Remote inference API call duration in seconds.",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "status"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascribe_remote_retries_total",
				Help: "Remote calls retried after a failed attempt, by pipeline stage.",
			},
			[]string{"stage"},
		),
		remoteCleanupDeletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediascribe_remote_cleanup_files_total",
				Help: "Remote files processed by post-generation cleanup, by result.",
			},
			[]string{"result"},
		),
		expiredFilesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mediascribe_expired_files_total",
				Help: "Staged files purged after their TTL elapsed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.remoteRequestsTotal,
		m.remoteDuration,
		m.retriesTotal,
		m.remoteCleanupDeletes,
		m.expiredFilesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterStagedFiles exposes the live registry size as a gauge.
func (m *Metrics) RegisterStagedFiles(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mediascribe_staged_files",
			Help: "Uploaded files currently held in the registry.",
		},
		func() float64 { return float64(count()) },
	))
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveRemote(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.remoteRequestsTotal.WithLabelValues(operation, statusLabel).Inc()
	m.remoteDuration.WithLabelValues(operation, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveRemoteCleanup(deleted, failed int) {
	if m == nil {
		return
	}
	m.remoteCleanupDeletes.WithLabelValues("deleted").Add(float64(deleted))
	m.remoteCleanupDeletes.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) AddExpiredFiles(n int) {
	if m == nil {
		return
	}
	m.expiredFilesTotal.Add(float64(n))
}
