package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/hanko-field/quickorder/internal/domain"
)

const metricsNamespace = "quickorder"

// QuickOrderMetrics exports batch and item outcome counters to Prometheus.
type QuickOrderMetrics struct {
	batches       *prometheus.CounterVec
	items         *prometheus.CounterVec
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
}

// NewQuickOrderMetrics registers the quick order collectors on reg. A nil reg uses the default registerer.
func NewQuickOrderMetrics(reg prometheus.Registerer) *QuickOrderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &QuickOrderMetrics{
		// Labels: result (processed, shape_error)
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "batch",
			Name:      "total",
			Help:      "Quick order batches by result",
		}, []string{"result"}),
		// Labels: outcome (added, clamped_added, ...), reason (product_missing, persist_failed, ...)
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "item",
			Name:      "outcomes_total",
			Help:      "Quick order line items by reconciliation outcome",
		}, []string{"outcome", "reason"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "batch",
			Name:      "items",
			Help:      "Line items per processed batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Time spent processing a batch",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// ObserveItem counts one reconciled line item.
func (m *QuickOrderMetrics) ObserveItem(kind domain.OutcomeKind, reason string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(string(kind), reason).Inc()
}

// ObserveBatch records a finished batch.
func (m *QuickOrderMetrics) ObserveBatch(items int, shapeError bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	if shapeError {
		m.batches.WithLabelValues("shape_error").Inc()
	} else {
		m.batches.WithLabelValues("processed").Inc()
		m.batchSize.Observe(float64(items))
	}
	m.batchDuration.Observe(elapsed.Seconds())
}

// MetricsHandler serves the collectors gathered by g, or the default gatherer when g is nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
