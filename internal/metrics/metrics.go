package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current queue occupancy.",
	})

	QueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "capacity",
		Help:      "Configured queue capacity.",
	})

	MessagesProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "messages_produced_total",
		Help:      "Total messages successfully enqueued.",
	})

	MessagesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "messages_consumed_total",
		Help:      "Total messages successfully dequeued.",
	})

	ProducerBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "producer_blocks_total",
		Help:      "Total times a producer had to wait for a free slot.",
	})

	ConsumerBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "consumer_blocks_total",
		Help:      "Total times a consumer had to wait for an item.",
	})

	DequeueLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pcsim",
		Subsystem: "queue",
		Name:      "dequeue_latency_seconds",
		Help:      "Time a message spent resident in the queue before being consumed.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	SampleCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pcsim",
		Subsystem: "analytics",
		Name:      "sample_count",
		Help:      "Number of occupancy samples recorded so far this run.",
	})

	RunInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pcsim",
		Subsystem: "run",
		Name:      "info",
		Help:      "Static run parameters, value is always 1.",
	}, []string{"producers", "consumers", "capacity", "timeout_seconds"})

	ExporterAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pcsim",
		Subsystem: "export",
		Name:      "attempts_total",
		Help:      "Run-artifact export attempts per sink and outcome.",
	}, []string{"sink", "status"})
)

var (
	registry *prometheus.Registry
	regOnce  sync.Once
)

// Init builds a fresh Prometheus registry carrying the Go runtime
// collectors plus every pcsim metric.
func Init() {
	regOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry.MustRegister(
			QueueDepth, QueueCapacity,
			MessagesProduced, MessagesConsumed,
			ProducerBlocks, ConsumerBlocks,
			DequeueLatency, SampleCount,
			RunInfo, ExporterAttempts,
		)
	})
}

// Registry returns the custom Prometheus registry, or nil before Init.
func Registry() *prometheus.Registry {
	return registry
}

// RecordDequeueLatency converts a millisecond latency into the
// dequeue_latency_seconds histogram.
func RecordDequeueLatency(ms int64) {
	DequeueLatency.Observe(float64(ms) / 1000.0)
}
