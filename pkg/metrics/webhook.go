package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records inbound provider webhook handling.
type WebhookMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Webhook deliveries by event type and acknowledgment status.",
	}, []string{"event_type", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Time spent handling a webhook delivery.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(requests, duration)
	return &WebhookMetrics{requests: requests, duration: duration}
}

// Observe records one delivery.
func (w *WebhookMetrics) Observe(eventType, status string, elapsed time.Duration) {
	if w == nil || w.requests == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	w.requests.WithLabelValues(eventType, normalizeLabel(status)).Inc()
	w.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
