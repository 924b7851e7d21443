package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	EngineEvents      *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	DispatchLatency   prometheus.Histogram
	PinVerifications  *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of voice sessions currently in the active state.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		EngineEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_events_total",
			Help:      "Voice engine events consumed, by event type.",
		}, []string{"type"}),
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_dispatches_total",
			Help:      "Function call dispatches by function name and outcome.",
		}, []string{"function", "outcome"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "function_dispatch_latency_ms",
			Help:      "Latency of function call dispatch in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		PinVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_verifications_total",
			Help:      "PIN verification attempts by outcome.",
		}, []string{"outcome"}),
		WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Outbound webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveDispatch(function, outcome string, d time.Duration) {
	m.Dispatches.WithLabelValues(function, outcome).Inc()
	m.DispatchLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
