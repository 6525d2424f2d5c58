package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	CourierErrors     *prometheus.CounterVec
	WebhooksTotal     *prometheus.CounterVec
	TransitionsTotal  *prometheus.CounterVec
	OutboxPublished   *prometheus.CounterVec
	OutboxDeadLetters *prometheus.CounterVec
}

// NewMetrics creates metrics registered on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics registered on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_requests_total",
				Help: "Total number of courier requests by operation, provider, and status",
			},
			[]string{"operation", "provider", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_request_duration_seconds",
				Help:    "Courier request duration in seconds by operation and provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "provider"},
		),
		CourierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_errors_total",
				Help: "Total courier failures by provider and failure kind",
			},
			[]string{"provider", "kind"},
		),
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_webhooks_total",
				Help: "Webhook deliveries by provider and result",
			},
			[]string{"provider", "result"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipment_transitions_total",
				Help: "Shipment status events by target status and result",
			},
			[]string{"status", "result"},
		),
		OutboxPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_publish_total",
				Help: "Outbox publish attempts by event type and result",
			},
			[]string{"type", "result"},
		),
		OutboxDeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_dead_letters_total",
				Help: "Outbox events dead-lettered after exhausting retries",
			},
			[]string{"type"},
		),
	}
}

// RecordRequest records a courier request.
func (m *Metrics) RecordRequest(operation, provider, status string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, provider, status).Inc()
	m.RequestDuration.WithLabelValues(operation, provider).Observe(duration)
}

// RecordError records a courier failure.
func (m *Metrics) RecordError(provider, kind string) {
	if m == nil {
		return
	}
	m.CourierErrors.WithLabelValues(provider, kind).Inc()
}

// RecordWebhook records a webhook delivery.
func (m *Metrics) RecordWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(provider, result).Inc()
}

// RecordTransition records a shipment status event.
func (m *Metrics) RecordTransition(status, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(status, result).Inc()
}

// RecordPublish records an outbox publish attempt.
func (m *Metrics) RecordPublish(eventType, result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType, result).Inc()
}

// RecordDeadLetter records a dead-lettered outbox event.
func (m *Metrics) RecordDeadLetter(eventType string) {
	if m == nil {
		return
	}
	m.OutboxDeadLetters.WithLabelValues(eventType).Inc()
}
