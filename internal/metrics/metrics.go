package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	SyncItems         *prometheus.CounterVec
	SyncDrains        *prometheus.CounterVec
	SyncDrainDuration prometheus.Histogram
	SyncQueueDepth    prometheus.Gauge
	MigrationItems    *prometheus.CounterVec
	RemoteRequests    *prometheus.CounterVec
	RemoteLatency     *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = New(namespace)
		prometheus.MustRegister(metricsInstance.Collectors()...)
	})
	return metricsInstance
}

// New builds an unregistered set of collectors. Tests use it to avoid the
// global registry.
func New(namespace string) *Metrics {
	return &Metrics{
		SyncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Queue items processed by entity and outcome.",
		}, []string{"entity", "outcome"}),
		SyncDrains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_drains_total",
			Help:      "Drain runs grouped by result.",
		}, []string{"result"}),
		SyncDrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_drain_duration_seconds",
			Help:      "Wall time of a full queue drain.",
			Buckets:   prometheus.DefBuckets,
		}),
		SyncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Pending mutations in the local queue.",
		}),
		MigrationItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_items_total",
			Help:      "Entities handled by the cloud migration by step and outcome.",
		}, []string{"step", "outcome"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Total Supabase requests by operation and status.",
		}, []string{"op", "status"}),
		RemoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Latency distribution for Supabase requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Collectors lists every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncItems,
		m.SyncDrains,
		m.SyncDrainDuration,
		m.SyncQueueDepth,
		m.MigrationItems,
		m.RemoteRequests,
		m.RemoteLatency,
		m.HTTPRequests,
	}
}
