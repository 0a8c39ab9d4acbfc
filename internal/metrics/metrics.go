package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	relayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayd",
			Subsystem: "relay",
			Name:      "calls_total",
			Help:      "Number of execute requests by execution path.",
		}, []string{"path"},
	)
	relayCallErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayd",
			Subsystem: "relay",
			Name:      "call_errors_total",
			Help:      "Number of execute requests that failed.",
		},
	)
	relayCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relayd",
			Subsystem: "relay",
			Name:      "call_duration_seconds",
			Help:      "Wall-clock duration of execute requests.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	workerExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayd",
			Subsystem: "relay",
			Name:      "worker_exits_total",
			Help:      "Number of persistent worker process exits.",
		},
	)
	schedulerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayd",
			Subsystem: "scheduler",
			Name:      "fallbacks_total",
			Help:      "Number of provider blocks triggering fallback.",
		}, []string{"provider"},
	)
	registryRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayd",
			Subsystem: "registry",
			Name:      "repairs_total",
			Help:      "Number of stale-state repairs made by reconciliation.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{relayCalls, relayCallErrors, relayCallDuration, workerExits, schedulerFallbacks, registryRepairs}
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

// RegisterDefault registers against the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRelayCall(path string) {
	if regOK.Load() {
		relayCalls.WithLabelValues(path).Inc()
	}
}

func IncRelayError() {
	if regOK.Load() {
		relayCallErrors.Inc()
	}
}

func ObserveRelayDuration(seconds float64) {
	if regOK.Load() {
		relayCallDuration.Observe(seconds)
	}
}

func IncWorkerExit() {
	if regOK.Load() {
		workerExits.Inc()
	}
}

func IncSchedulerFallback(provider string) {
	if regOK.Load() {
		schedulerFallbacks.WithLabelValues(provider).Inc()
	}
}

func AddRegistryRepairs(n int) {
	if regOK.Load() && n > 0 {
		registryRepairs.Add(float64(n))
	}
}
