// Package telemetry exposes ddscore's Prometheus collectors: allocator
// utilization, dispatcher queue depth, durable-client quorum/session state,
// and access-control decision counts. Only the durable-client coordinator
// updates any of them (quorum reached, samples delivered, sessions
// aborted); the rest are registered but not updated by any package here.
// Modeled on the teacher's pkg/metrics, trimmed to this core's own
// subsystems.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide collector container.
type Metrics struct {
	IDAllocAvailable        prometheus.Gauge
	DispatcherQueueDepth    prometheus.Gauge
	DispatcherFired         prometheus.Counter
	DurableQuorumReached    *prometheus.GaugeVec
	DurableSessionsOpen     prometheus.Gauge
	DurableSamplesDelivered prometheus.Counter
	DurableSessionsAborted  prometheus.Counter
	AccessDecisionsTotal    *prometheus.CounterVec
}

var def *Metrics

// Init registers and returns the process-wide Metrics container.
func Init(namespace, subsystem string) *Metrics {
	m := &Metrics{
		IDAllocAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "idalloc_available", Help: "Number of ids currently available in the inverse-set allocator.",
		}),
		DispatcherQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "dispatcher_queue_depth", Help: "Number of pending timed callbacks.",
		}),
		DispatcherFired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "dispatcher_callbacks_fired_total", Help: "Total timed callbacks fired (timeout or delete).",
		}),
		DurableQuorumReached: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "durable_quorum_reached", Help: "1 if the writer's quorum is currently reached, else 0.",
		}, []string{"writer"}),
		DurableSessionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "durable_sessions_open", Help: "Number of currently open per-server delivery sessions.",
		}),
		DurableSamplesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "durable_samples_delivered_total", Help: "Total historical-data samples injected into reader history caches.",
		}),
		DurableSessionsAborted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "durable_sessions_aborted_total", Help: "Total delivery sessions implicitly aborted by a new BEGIN.",
		}),
		AccessDecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "access_decisions_total", Help: "Total access-control decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	def = m
	return m
}

// Default returns the process-wide Metrics, initializing a no-op namespace
// if Init was never called (keeps callers from nil-checking everywhere).
func Default() *Metrics {
	if def == nil {
		return Init("ddscore", "")
	}
	return def
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }
