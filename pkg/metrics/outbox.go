package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PublishResultPublished  = "published"
	PublishResultRetry      = "retry"
	PublishResultDeadLetter = "dead_letter"
)

// OutboxMetrics records publisher throughput.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewOutboxMetrics registers the outbox publisher metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox publish attempts by topic and result.",
	}, []string{"topic", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_duration_seconds",
		Help:    "Latency of a single outbox publish.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
	reg.MustRegister(published, duration)
	return &OutboxMetrics{published: published, duration: duration}
}

// ObservePublish records one publish attempt.
func (o *OutboxMetrics) ObservePublish(topic, result string, elapsed time.Duration) {
	if o == nil || o.published == nil {
		return
	}
	topic = normalizeLabel(topic)
	o.published.WithLabelValues(topic, normalizeLabel(result)).Inc()
	o.duration.WithLabelValues(topic).Observe(elapsed.Seconds())
}
