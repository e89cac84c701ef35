// Package metrics provides Prometheus metrics for the adherence services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	AlertsRegistered      prometheus.Counter
	AlertsCancelled       prometheus.Counter
	AlertsFired           prometheus.Counter
	CompletionsToggled    prometheus.Counter
	CompletionFailures    prometheus.Counter
	RescheduleDuration    prometheus.Histogram
	ActiveRegistrations   prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		AlertsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_alerts_registered_total",
			Help: "Total reminder alerts registered with the sink",
		}),
		AlertsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_alerts_cancelled_total",
			Help: "Total reminder alerts cancelled",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_alerts_fired_total",
			Help: "Total reminder alerts that fired",
		}),
		CompletionsToggled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "completions_toggled_total",
			Help: "Total completion records written",
		}),
		CompletionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "completions_failed_total",
			Help: "Total completion writes that failed",
		}),
		RescheduleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reschedule_duration_seconds",
			Help:    "Duration of full reschedule passes",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ActiveRegistrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminder_alerts_active",
			Help: "Currently registered reminder alerts",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.AlertsRegistered,
		m.AlertsCancelled,
		m.AlertsFired,
		m.CompletionsToggled,
		m.CompletionFailures,
		m.RescheduleDuration,
		m.ActiveRegistrations,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
