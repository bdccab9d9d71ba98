package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Signal outcomes recorded per located process.
const (
	OutcomeSent    = "sent"
	OutcomeDryRun  = "dry_run"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	located = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snipr",
			Subsystem: "locator",
			Name:      "processes_located",
			Help:      "Number of processes matched by the last locate.",
		},
	)
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snipr",
			Subsystem: "signaller",
			Name:      "signals_total",
			Help:      "Located processes handled, by signal and outcome.",
		}, []string{"signal", "outcome"},
	)
	batchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "snipr",
			Subsystem: "signaller",
			Name:      "batch_failures_total",
			Help:      "Runs aborted before any process was handled.",
		},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "snipr",
			Subsystem: "signaller",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one locate and signal run.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{located, signalsTotal, batchFailures, runDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetLocated(n int) {
	if regOK.Load() {
		located.Set(float64(n))
	}
}

func IncSignal(signal, outcome string) {
	if regOK.Load() {
		signalsTotal.WithLabelValues(signal, outcome).Inc()
	}
}

func IncBatchFailure() {
	if regOK.Load() {
		batchFailures.Inc()
	}
}

func ObserveRunDuration(seconds float64) {
	if regOK.Load() {
		runDuration.Observe(seconds)
	}
}
