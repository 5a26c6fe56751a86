package circuit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus metric set for circuit breakers. All methods
// are nil-safe so an unmetered breaker carries no overhead.
type Metrics struct {
	successes    *prometheus.CounterVec
	failures     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	state        *prometheus.GaugeVec
}

// NewMetrics creates and registers the breaker metrics on the given
// registerer. Pass prometheus.DefaultRegisterer for the process registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "flakeguard"
	}
	factory := promauto.With(reg)

	return &Metrics{
		successes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "successes_total",
			Help:      "Total number of successful attempts recorded",
		}, []string{"operation"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "failures_total",
			Help:      "Total number of failed attempts recorded",
		}, []string{"operation"}),

		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "rejections_total",
			Help:      "Total number of attempts refused by an open or exhausted half-open circuit",
		}, []string{"operation"}),

		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total number of state transitions",
		}, []string{"operation", "state"}),

		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current state of the circuit (0=closed, 1=half-open, 2=open)",
		}, []string{"operation"}),
	}
}

func (m *Metrics) recordSuccess(operation string) {
	if m == nil {
		return
	}
	m.successes.WithLabelValues(operation).Inc()
}

func (m *Metrics) recordFailure(operation string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation).Inc()
}

func (m *Metrics) recordRejection(operation string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) recordStateChange(operation string, to Status) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(operation, to.String()).Inc()
	m.state.WithLabelValues(operation).Set(float64(to))
}
