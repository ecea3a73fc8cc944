package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	relayAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choom",
			Subsystem: "relay",
			Name:      "attempts_total",
			Help:      "Transport attempts made by the relay, by stage and outcome.",
		},
		[]string{"side", "stage", "outcome"},
	)
	relayAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "choom",
			Subsystem: "relay",
			Name:      "attempt_duration_seconds",
			Help:      "Transport attempt latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"side", "stage"},
	)
	relayFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choom",
			Subsystem: "relay",
			Name:      "fallbacks_total",
			Help:      "Stage transitions caused by a failed earlier stage.",
		},
		[]string{"from", "to"},
	)
	relayRepeatsPrevented = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "choom",
			Subsystem: "relay",
			Name:      "repeats_prevented_total",
			Help:      "Replies rejected for repeating the previous line.",
		},
	)
	runnerSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choom",
			Subsystem: "runner",
			Name:      "steps_total",
			Help:      "Script runner lines by adapter and outcome.",
		},
		[]string{"adapter", "outcome"},
	)
)

// Registry is the private registry holding every choom collector.
func Registry() *prometheus.Registry {
	RegisterMetrics()
	return registry
}

func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(relayAttempts, relayAttemptDuration, relayFallbacks, relayRepeatsPrevented, runnerSteps)
	})
}

// RecordAttempt counts one transport attempt; outcome is "ok" or a short
// failure reason.
func RecordAttempt(side, stage, outcome string, elapsed time.Duration) {
	RegisterMetrics()
	relayAttempts.WithLabelValues(side, stage, outcome).Inc()
	relayAttemptDuration.WithLabelValues(side, stage).Observe(elapsed.Seconds())
}

func RecordFallback(from, to string) {
	RegisterMetrics()
	relayFallbacks.WithLabelValues(from, to).Inc()
}

func RecordRepeatPrevented() {
	RegisterMetrics()
	relayRepeatsPrevented.Inc()
}

func RecordRunnerStep(adapter, outcome string) {
	RegisterMetrics()
	runnerSteps.WithLabelValues(adapter, outcome).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry())
}
