package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the queue's atomic counters into prometheus so the
// dashboard (and any future scraper) sees the same numbers the logs do.
type Metrics struct {
	Produced        *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	Depth           prometheus.Gauge
	DispatchLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Produced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posture_agent",
			Subsystem: "queue",
			Name:      "events_produced_total",
			Help:      "Events admitted to the priority queue.",
		}, []string{"priority"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posture_agent",
			Subsystem: "queue",
			Name:      "events_dropped_total",
			Help:      "Events dropped by backpressure, by reason.",
		}, []string{"reason"}),
		Depth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "posture_agent",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of buffered events.",
		}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "posture_agent",
			Subsystem: "consumer",
			Name:      "dispatch_latency_seconds",
			Help:      "Enqueue-to-dequeue latency observed by the consumer loop.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}
