// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the live-service core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublishedTotal counts events handed to the notification hub.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebuzz_events_published_total",
		Help: "Total number of events published to the notification hub",
	}, []string{"kind", "audience"})

	// EventsDroppedTotal counts events that could not be delivered.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebuzz_events_dropped_total",
		Help: "Total number of dropped events by audience and reason",
	}, []string{"audience", "reason"})

	// ActiveConnections tracks currently open streaming connections.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tablebuzz_active_connections",
		Help: "Currently open streaming connections by audience",
	}, []string{"audience"})

	// SessionCacheOps counts session cache operations by outcome.
	SessionCacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebuzz_session_cache_ops_total",
		Help: "Session cache operations by operation and outcome",
	}, []string{"op", "outcome"})

	// TransitionValidations counts status transition validations by outcome.
	TransitionValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebuzz_transition_validations_total",
		Help: "Status transition validations by actor role and outcome",
	}, []string{"role", "outcome"})
)

// IncEventDropped records a dropped event with a concrete reason.
func IncEventDropped(audience, reason string) {
	if audience == "" {
		audience = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(audience, reason).Inc()
}

// IncCacheOp records a session cache operation outcome.
func IncCacheOp(op, outcome string) {
	SessionCacheOps.WithLabelValues(op, outcome).Inc()
}
