package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scanalyzer"

// IngestMetrics holds all Prometheus metrics for the ingest service.
type IngestMetrics struct {
	RecordsTotal         *prometheus.CounterVec
	BytesTotal           prometheus.Counter
	ClassificationsTotal *prometheus.CounterVec
	EnrichDuration       prometheus.Histogram
	BulkBatchSize        prometheus.Histogram
	AlertsPublishedTotal *prometheus.CounterVec
	WALActive            prometheus.Gauge

	HubObservers       prometheus.Gauge
	HubPaused          prometheus.Gauge
	HubDeliveriesTotal *prometheus.CounterVec
	HubPrunedTotal     prometheus.Counter

	APIKeyCacheHits   prometheus.Counter
	APIKeyCacheMisses prometheus.Counter
}

// NewIngestMetrics initializes the ingest metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	f := promauto.With(reg)
	return &IngestMetrics{
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of records handled by ingress mode and status.",
		}, []string{"mode", "status"}), // mode: create, ingest, bulk, stream. status: stored, duplicate, broadcast, error_schema, error_enrich, error_persist
		BytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of request body bytes accepted.",
		}),
		ClassificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "classifications_total",
			Help:      "Total number of classified records by label.",
		}, []string{"label"}),
		EnrichDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "duration_seconds",
			Help:      "Time spent enriching a single record.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		BulkBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bulk_batch_size",
			Help:      "Number of records per bulk request.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000},
		}),
		AlertsPublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "published_total",
			Help:      "Total number of alerting records handed to the alert feed.",
		}, []string{"result"}), // result: redis, wal, error
		WALActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the Write-Ahead Log is currently active (1 for active, 0 for inactive).",
		}),
		HubObservers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "observers",
			Help:      "Number of live observer connections.",
		}),
		HubPaused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "paused",
			Help:      "1 while the hub-wide broadcast gate is paused.",
		}),
		HubDeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Total number of per-connection delivery attempts by result.",
		}, []string{"result"}), // result: ok, failed, skipped_paused
		HubPrunedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "pruned_total",
			Help:      "Total number of observer connections pruned after a failed delivery.",
		}),
		APIKeyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
	}
}

// DispatchMetrics holds all Prometheus metrics for the alert dispatcher.
type DispatchMetrics struct {
	AlertsTotal      *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	DLQMessagesTotal prometheus.Counter
}

// NewDispatchMetrics initializes the dispatcher metrics and registers them with reg.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	f := promauto.With(reg)
	return &DispatchMetrics{
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "alerts_total",
			Help:      "Total number of alerts processed by status.",
		}, []string{"status"}), // status: notified, dlq
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "batch_duration_seconds",
			Help:      "Time taken to dispatch one batch of alerts, including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		DLQMessagesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "dlq_messages_total",
			Help:      "Total number of alerts moved to the dead-letter stream.",
		}),
	}
}
