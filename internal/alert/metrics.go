package alert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the detector and the alerts
// consumer expose. Each process registers one instance on its own
// registry; families it never touches simply stay at zero.
type Metrics struct {
	// Ingest metrics
	FlowsReceived prometheus.Counter
	FlowsEvicted  prometheus.Counter
	FlowsDropped  prometheus.Counter

	// Buffer metrics
	BufferSize        prometheus.Gauge
	BufferUtilization prometheus.Gauge

	// Batch metrics
	BatchesProcessed    *prometheus.CounterVec
	BatchSize           prometheus.Histogram
	BatchProcessingTime prometheus.Histogram
	Predictions         *prometheus.CounterVec
	ThreatLevel         prometheus.Gauge

	// Stream metrics
	PublishFailures prometheus.Counter
	StreamDepth     prometheus.Gauge
	StreamPending   prometheus.Gauge
	DLQDepth        prometheus.Gauge

	// Consumer metrics
	EntriesProcessed *prometheus.CounterVec

	// Alert metrics
	AlertsCreated    *prometheus.CounterVec
	NotifierFailures *prometheus.CounterVec

	// Live stream metrics
	LiveSubscribers prometheus.Gauge
}

// NewMetrics builds and registers the full metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FlowsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_flows_received_total",
			Help: "Total number of flows accepted into the buffer",
		}),

		FlowsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_flows_evicted_total",
			Help: "Total number of flows evicted from a full buffer",
		}),

		FlowsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_flows_dropped_total",
			Help: "Total number of flows dropped before scoring",
		}),

		BufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_buffer_size",
			Help: "Current number of flows waiting in the buffer",
		}),

		BufferUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_buffer_utilization",
			Help: "Buffer depth as a fraction of capacity",
		}),

		BatchesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_batches_processed_total",
				Help: "Total number of scored batches by flush trigger",
			},
			[]string{"trigger"},
		),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowguard_batch_size",
			Help:    "Number of flows per scored batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		BatchProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowguard_batch_processing_duration_seconds",
			Help:    "Time spent scoring and publishing a batch",
			Buckets: prometheus.DefBuckets,
		}),

		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_predictions_total",
				Help: "Total number of predictions by verdict",
			},
			[]string{"verdict"},
		),

		ThreatLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_threat_level",
			Help: "Threat level of the most recent batch (0=normal .. 4=critical)",
		}),

		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_stream_publish_failures_total",
			Help: "Total number of failed stream publishes",
		}),

		StreamDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_stream_depth",
			Help: "Entries currently in the prediction stream",
		}),

		StreamPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_stream_pending",
			Help: "Entries delivered to the consumer group but not yet acknowledged",
		}),

		DLQDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_stream_dlq_depth",
			Help: "Entries currently in the dead letter stream",
		}),

		EntriesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_consumer_entries_total",
				Help: "Total number of stream entries handled by outcome",
			},
			[]string{"outcome"},
		),

		AlertsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_alerts_created_total",
				Help: "Total number of alerts persisted by severity",
			},
			[]string{"severity"},
		),

		NotifierFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_notifier_failures_total",
				Help: "Total number of failed alert notifications",
			},
			[]string{"notifier"},
		),

		LiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_live_subscribers",
			Help: "Currently connected live stream clients",
		}),
	}
}

// NewRegistry creates a registry preloaded with the standard process
// and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return registry
}
