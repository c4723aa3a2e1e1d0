package github

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/logfields"
)

const metricNamespace = "hookd"

const (
	deliveriesMetricName        = "webhook_deliveries_total"
	signatureFailuresMetricName = "webhook_signature_failures_total"
	forwardingDroppedMetricName = "forwarding_results_dropped_total"
	payloadBytesMetricName      = "webhook_payload_bytes"
)

const (
	eventTypeLabel = "event_type"
	statusLabel    = "status"
)

// otherEventTypeLabel is the event_type label value of deliveries without a
// registered handler.
const otherEventTypeLabel = "other"

type metricCollector struct {
	logger            *zap.Logger
	deliveries        *prometheus.CounterVec
	signatureFailures prometheus.Counter
	forwardingDropped prometheus.Counter
	payloadBytes      prometheus.Histogram
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      deliveriesMetricName,
				Help:      "count of webhook deliveries with a valid signature by event type and result status, event types without a handler are counted as \"other\"",
			},
			[]string{eventTypeLabel, statusLabel},
		),
		signatureFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      signatureFailuresMetricName,
				Help:      "count of webhook deliveries rejected because of an invalid signature",
			},
		),
		forwardingDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      forwardingDroppedMetricName,
				Help:      "count of results that were not forwarded because the forwarding queue was full",
			},
		),
		payloadBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      payloadBytesMetricName,
				Help:      "size of received webhook payloads",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
	}
}

// metricEventType returns the event_type label for a delivery.
// Only event types with a registered handler produce processed or failed
// results, all others are skipped and share one label value.
func metricEventType(eventType, status string) string {
	if eventType == "" || status == dispatch.StatusSkipped {
		return otherEventTypeLabel
	}

	return eventType
}

func (m *metricCollector) DeliveriesInc(eventType, status string) {
	cnt, err := m.deliveries.GetMetricWith(prometheus.Labels{
		eventTypeLabel: metricEventType(eventType, status),
		statusLabel:    status,
	})
	if err != nil {
		m.logger.Warn(
			"could not record metric",
			zap.String("metric", deliveriesMetricName),
			logfields.Event("recording_metric_failed"),
			zap.Error(err),
		)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) SignatureFailuresInc() {
	m.signatureFailures.Inc()
}

func (m *metricCollector) ForwardingDroppedInc() {
	m.forwardingDropped.Inc()
}

func (m *metricCollector) ObservePayloadSize(bytes int) {
	m.payloadBytes.Observe(float64(bytes))
}
