// Package telemetry exposes the process-wide prometheus registry and the
// counters/gauges collectors and the sink increment while they run. spec.md's
// distillation dropped observability, but its Non-goals don't exclude it, so
// this is carried as ambient infrastructure the way the teacher carries
// prometheus metrics alongside every component (DataDog-datadog-agent's
// telemetry package wraps client_golang the same way).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fact"

var (
	// CollectorEventsEmitted counts events a collector has pushed onto the
	// bus, labeled by collector name and event kind.
	CollectorEventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "events_emitted_total",
		Help:      "Number of events emitted onto the collector event bus.",
	}, []string{"collector", "kind"})

	// CollectorRunning reports whether a given collector is currently
	// started (1) or stopped (0).
	CollectorRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "running",
		Help:      "Whether a collector is currently running.",
	}, []string{"collector"})

	// SinkEventsConsumed counts events the sink has drained from the bus.
	SinkEventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "events_consumed_total",
		Help:      "Number of events drained from the collector event bus by the sink.",
	}, []string{"kind"})

	// RelayConnectionsActive reports the number of open host-guest vsock
	// connections being handled by the relay.
	RelayConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "connections_active",
		Help:      "Number of currently open guest connections handled by the sensor relay.",
	})

	// RelayFramesDropped counts inbound frames the relay could not decode
	// and discarded, per spec.md §4.7/§7's "log and continue" policy.
	RelayFramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Number of inbound guest frames dropped due to decode failure.",
	})

	// RPCRequestsTotal counts upstream RPC calls made to the sensor, labeled
	// by method and outcome ("ok" or "error").
	RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Number of RPC requests made to the sensor.",
	}, []string{"method", "outcome"})
)

// Registry is the process-wide collector registry. Every metric above is
// registered on it once, in init; cmd/fact/main.go serves it over HTTP.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		CollectorEventsEmitted,
		CollectorRunning,
		SinkEventsConsumed,
		RelayConnectionsActive,
		RelayFramesDropped,
		RPCRequestsTotal,
	)
}
