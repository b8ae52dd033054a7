// Package metrics holds the hub's Prometheus collectors. Everything is
// registered on the default registry at init and exposed by the ops HTTP
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistrationsTotal counts registration attempts by kind
	// (service|module) and outcome (completed|failed).
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_hub_registrations_total",
		Help: "Registration attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	// UnregistrationsTotal counts unregister calls by kind and outcome.
	UnregistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_hub_unregistrations_total",
		Help: "Unregistration attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	// EventsEmitted counts lifecycle events successfully written to the bus.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_hub_events_emitted_total",
		Help: "Lifecycle events published to the event bus, by topic.",
	}, []string{"topic"})

	// EventEmitFailures counts dropped lifecycle events. Emission is
	// fire-and-forget, so this counter is the only trace of a loss.
	EventEmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_hub_event_emit_failures_total",
		Help: "Lifecycle events dropped after a publish error, by topic.",
	}, []string{"topic"})

	// StaleServicesMarked counts instances the stale monitor flipped to
	// UNHEALTHY after their heartbeat lapsed.
	StaleServicesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registration_hub_stale_services_marked_total",
		Help: "Service rows marked UNHEALTHY by the stale monitor.",
	})

	// SchemaSyncAttempts counts background schema mirror attempts by outcome
	// (synced|failed).
	SchemaSyncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_hub_schema_sync_attempts_total",
		Help: "Background schema registry sync attempts by outcome.",
	}, []string{"outcome"})

	// SchemaCacheHits counts read-through schema cache hits and misses.
	SchemaCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_hub_schema_cache_requests_total",
		Help: "Schema cache lookups by result (hit|miss).",
	}, []string{"result"})
)
