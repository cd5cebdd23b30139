// Package metrics provides Prometheus metrics for the coordination core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted counts events stamped by the bus, by domain.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planweave_bus_events_emitted_total",
		Help: "Total number of events emitted on the bus, by domain.",
	}, []string{"domain"})

	// BridgeMessages counts wire messages forwarded across the context
	// boundary, by message kind.
	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planweave_bridge_messages_total",
		Help: "Total number of wire messages posted by the bridge, by kind.",
	}, []string{"kind"})

	// BridgeConnections tracks currently open bridge connections.
	BridgeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "planweave_bridge_connections",
		Help: "Current number of open bridge connections.",
	})

	// ValidatorFindings counts contract-validation findings, by severity.
	ValidatorFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planweave_validator_findings_total",
		Help: "Total number of event-sequence validator findings, by severity.",
	}, []string{"severity"})

	// SessionTransitions counts committed state-machine transitions, by
	// target state.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planweave_session_transitions_total",
		Help: "Total number of committed session state transitions, by target state.",
	}, []string{"to"})
)
